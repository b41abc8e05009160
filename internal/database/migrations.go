package database

import (
	"errors"
	"time"

	"github.com/upnvj-forum/forum-sync/internal/push"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationResetOrphanedServerState = "2024-09-14_reset_orphaned_push_server_state"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationResetOrphanedServerState, apply: resetOrphanedServerState},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// resetOrphanedServerState clears server states recorded for devices that no
// longer hold an endpoint.
func resetOrphanedServerState(db *gorm.DB) error {
	return db.Model(&push.DeviceRecord{}).
		Where("endpoint = '' AND server_state <> ?", string(push.ServerStateAbsent)).
		Update("server_state", string(push.ServerStateAbsent)).Error
}
