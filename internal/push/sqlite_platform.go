package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultDeviceID     = "local"
	defaultEndpointBase = "forum-sync://push"
	authSecretSize      = 16
)

var errMissingDatabase = errors.New("push: database is required")

// DeviceRecord is the persisted push state of one device.
type DeviceRecord struct {
	DeviceID         string `gorm:"column:device_id;primaryKey;size:64"`
	Permission       string `gorm:"column:permission;size:16;not null"`
	Endpoint         string `gorm:"column:endpoint;size:512"`
	P256dh           string `gorm:"column:p256dh;size:128"`
	Auth             string `gorm:"column:auth;size:64"`
	PrivateKey       string `gorm:"column:private_key;size:128"`
	ServerState      string `gorm:"column:server_state;size:16;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (DeviceRecord) TableName() string {
	return "push_devices"
}

// PermissionPrompt asks the viewer for notification permission.
type PermissionPrompt func(ctx context.Context) (Permission, error)

// SQLitePlatformConfig describes a SQLitePlatform.
type SQLitePlatformConfig struct {
	Database     *gorm.DB
	DeviceID     string
	EndpointBase string
	Prompt       PermissionPrompt
	Disabled     bool
	Clock        func() time.Time
}

// SQLitePlatform is the device side of push for the daemon: permission and
// endpoint live in the local database and survive restarts. Without a prompt
// an explicit subscribe request counts as consent unless permission was denied.
type SQLitePlatform struct {
	db           *gorm.DB
	deviceID     string
	endpointBase string
	prompt       PermissionPrompt
	supported    bool
	clock        func() time.Time
}

func NewSQLitePlatform(cfg SQLitePlatformConfig) (*SQLitePlatform, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	deviceID := strings.TrimSpace(cfg.DeviceID)
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	endpointBase := strings.TrimRight(strings.TrimSpace(cfg.EndpointBase), "/")
	if endpointBase == "" {
		endpointBase = defaultEndpointBase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLitePlatform{
		db:           cfg.Database,
		deviceID:     deviceID,
		endpointBase: endpointBase,
		prompt:       cfg.Prompt,
		supported:    !cfg.Disabled,
		clock:        clock,
	}, nil
}

func (p *SQLitePlatform) Supported() bool {
	return p.supported
}

func (p *SQLitePlatform) Permission(ctx context.Context) (Permission, error) {
	record, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return ParsePermission(record.Permission)
}

// SetPermission records a permission decision made outside the prompt.
func (p *SQLitePlatform) SetPermission(ctx context.Context, permission Permission) error {
	if _, err := ParsePermission(string(permission)); err != nil {
		return err
	}
	record, err := p.load(ctx)
	if err != nil {
		return err
	}
	record.Permission = string(permission)
	return p.save(ctx, record)
}

func (p *SQLitePlatform) RequestPermission(ctx context.Context) (Permission, error) {
	current, err := p.Permission(ctx)
	if err != nil {
		return "", err
	}
	if current != PermissionDefault {
		return current, nil
	}
	decision := PermissionGranted
	if p.prompt != nil {
		decision, err = p.prompt(ctx)
		if err != nil {
			return "", err
		}
	}
	if err := p.SetPermission(ctx, decision); err != nil {
		return "", err
	}
	return decision, nil
}

func (p *SQLitePlatform) Subscription(ctx context.Context) (*Subscription, error) {
	record, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	if record.Endpoint == "" {
		return nil, nil
	}
	return &Subscription{Endpoint: record.Endpoint, Keys: Keys{P256dh: record.P256dh, Auth: record.Auth}}, nil
}

// Subscribe mints an endpoint with fresh P-256 and auth keys. An existing
// endpoint is returned unchanged.
func (p *SQLitePlatform) Subscribe(ctx context.Context, applicationServerKey string) (Subscription, error) {
	if strings.TrimSpace(applicationServerKey) == "" {
		return Subscription{}, ErrMissingPublicKey
	}
	record, err := p.load(ctx)
	if err != nil {
		return Subscription{}, err
	}
	if record.Endpoint != "" {
		return Subscription{Endpoint: record.Endpoint, Keys: Keys{P256dh: record.P256dh, Auth: record.Auth}}, nil
	}
	endpointID, err := uuid.NewV7()
	if err != nil {
		return Subscription{}, err
	}
	privateKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return Subscription{}, fmt.Errorf("push: generate key: %w", err)
	}
	secret := make([]byte, authSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return Subscription{}, fmt.Errorf("push: generate auth secret: %w", err)
	}
	record.Endpoint = p.endpointBase + "/" + endpointID.String()
	record.P256dh = base64.RawURLEncoding.EncodeToString(privateKey.PublicKey().Bytes())
	record.Auth = base64.RawURLEncoding.EncodeToString(secret)
	record.PrivateKey = base64.RawURLEncoding.EncodeToString(privateKey.Bytes())
	if err := p.save(ctx, record); err != nil {
		return Subscription{}, err
	}
	return Subscription{Endpoint: record.Endpoint, Keys: Keys{P256dh: record.P256dh, Auth: record.Auth}}, nil
}

func (p *SQLitePlatform) Unsubscribe(ctx context.Context) error {
	record, err := p.load(ctx)
	if err != nil {
		return err
	}
	record.Endpoint = ""
	record.P256dh = ""
	record.Auth = ""
	record.PrivateKey = ""
	record.ServerState = string(ServerStateAbsent)
	return p.save(ctx, record)
}

func (p *SQLitePlatform) LoadServerState(ctx context.Context) (ServerState, error) {
	record, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return ServerState(record.ServerState), nil
}

func (p *SQLitePlatform) SaveServerState(ctx context.Context, state ServerState) error {
	record, err := p.load(ctx)
	if err != nil {
		return err
	}
	record.ServerState = string(state)
	return p.save(ctx, record)
}

func (p *SQLitePlatform) load(ctx context.Context) (DeviceRecord, error) {
	var record DeviceRecord
	err := p.db.WithContext(ctx).Where("device_id = ?", p.deviceID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DeviceRecord{
			DeviceID:    p.deviceID,
			Permission:  string(PermissionDefault),
			ServerState: string(ServerStateAbsent),
		}, nil
	}
	if err != nil {
		return DeviceRecord{}, err
	}
	return record, nil
}

func (p *SQLitePlatform) save(ctx context.Context, record DeviceRecord) error {
	record.UpdatedAtSeconds = p.clock().UTC().Unix()
	return p.db.WithContext(ctx).Save(&record).Error
}
