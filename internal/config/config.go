package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "FORUMSYNC"
	defaultHTTPAddress       = "127.0.0.1:8787"
	defaultAPIBaseURL        = "http://localhost:3000/api/v1"
	defaultAPITimeoutSeconds = 15
	defaultRealtimeTransport = RealtimeTransportWebsocket
	defaultRealtimeURL       = "ws://localhost:3000/events"
	defaultNATSSubject       = "forum.events.>"
	defaultFeedPageSize      = 5
	defaultDatabasePath      = "forum-sync.db"
	defaultLogLevel          = "info"
	defaultCacheCapacity     = 4096
)

const (
	// RealtimeTransportWebsocket dials the forum event gateway over a websocket.
	RealtimeTransportWebsocket = "websocket"
	// RealtimeTransportNATS subscribes to forum events relayed through NATS.
	RealtimeTransportNATS = "nats"
)

// AppConfig captures runtime configuration for the sync daemon.
type AppConfig struct {
	HTTPAddress         string
	APIBaseURL          string
	APITimeout          time.Duration
	RealtimeTransport   string
	RealtimeURL         string
	RealtimeNATSSubject string
	FeedPageSize        int
	DatabasePath        string
	LogLevel            string
	SessionToken        string
	SigningSecret       string
	AllowedOrigins      []string
	CacheCapacity       int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("api.timeout_seconds", defaultAPITimeoutSeconds)
	configViper.SetDefault("realtime.transport", defaultRealtimeTransport)
	configViper.SetDefault("realtime.url", defaultRealtimeURL)
	configViper.SetDefault("realtime.nats_subject", defaultNATSSubject)
	configViper.SetDefault("feed.page_size", defaultFeedPageSize)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("cache.capacity", defaultCacheCapacity)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		APIBaseURL:          strings.TrimRight(strings.TrimSpace(configViper.GetString("api.base_url")), "/"),
		APITimeout:          time.Duration(configViper.GetInt("api.timeout_seconds")) * time.Second,
		RealtimeTransport:   strings.ToLower(strings.TrimSpace(configViper.GetString("realtime.transport"))),
		RealtimeURL:         strings.TrimSpace(configViper.GetString("realtime.url")),
		RealtimeNATSSubject: strings.TrimSpace(configViper.GetString("realtime.nats_subject")),
		FeedPageSize:        configViper.GetInt("feed.page_size"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SessionToken:        strings.TrimSpace(configViper.GetString("session.token")),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		AllowedOrigins:      splitList(configViper.GetStringSlice("http.allowed_origins")),
		CacheCapacity:       configViper.GetInt("cache.capacity"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	parsed, err := url.Parse(c.APIBaseURL)
	if c.APIBaseURL == "" || err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute url")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive")
	}
	switch c.RealtimeTransport {
	case RealtimeTransportWebsocket, RealtimeTransportNATS:
	default:
		return fmt.Errorf("realtime.transport must be %q or %q", RealtimeTransportWebsocket, RealtimeTransportNATS)
	}
	if c.RealtimeURL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	if c.RealtimeTransport == RealtimeTransportNATS && c.RealtimeNATSSubject == "" {
		return fmt.Errorf("realtime.nats_subject is required for the nats transport")
	}
	if c.FeedPageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	return nil
}

// splitList flattens comma separated values; env vars arrive as one string.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
