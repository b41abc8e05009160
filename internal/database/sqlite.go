package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/upnvj-forum/forum-sync/internal/push"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite opens the device-local database and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&push.DeviceRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := normalizePermissions(db); err != nil && logger != nil {
		logger.Warn("push permission normalization failed", zap.Error(err))
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func normalizePermissions(db *gorm.DB) error {
	if err := db.Exec("UPDATE push_devices SET permission = lower(trim(permission)) WHERE permission <> lower(trim(permission));").Error; err != nil {
		return err
	}
	return db.Exec(fmt.Sprintf("UPDATE push_devices SET permission = '%s' WHERE permission NOT IN ('%s', '%s', '%s');",
		push.PermissionDefault, push.PermissionDefault, push.PermissionGranted, push.PermissionDenied)).Error
}
