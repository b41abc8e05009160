package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/upnvj-forum/forum-sync/internal/auth"
	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/config"
	"github.com/upnvj-forum/forum-sync/internal/database"
	"github.com/upnvj-forum/forum-sync/internal/forumapi"
	"github.com/upnvj-forum/forum-sync/internal/logging"
	"github.com/upnvj-forum/forum-sync/internal/push"
	"github.com/upnvj-forum/forum-sync/internal/realtime"
	"github.com/upnvj-forum/forum-sync/internal/server"
	"github.com/upnvj-forum/forum-sync/internal/session"
	"github.com/upnvj-forum/forum-sync/internal/votes"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forum-sync",
		Short: "Forum client sync daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Bridge listen address")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Forum REST API base URL")
	cmd.PersistentFlags().String("realtime-transport", defaults.GetString("realtime.transport"), "Real-time transport (websocket, nats)")
	cmd.PersistentFlags().String("realtime-url", defaults.GetString("realtime.url"), "Real-time endpoint URL")
	cmd.PersistentFlags().Int("feed-page-size", defaults.GetInt("feed.page_size"), "Default feed page size")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-token", "", "Forum access token to log in with at startup (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "realtime.transport", "realtime-transport")
	bindFlag(cmd, "realtime.url", "realtime-url")
	bindFlag(cmd, "feed.page_size", "feed-page-size")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.token", "session-token")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runDaemon(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := cache.NewStore(cache.StoreConfig{
		Capacity: appConfig.CacheCapacity,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	client, err := forumapi.NewClient(forumapi.Config{
		BaseURL: appConfig.APIBaseURL,
		Timeout: appConfig.APITimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	engine, err := votes.NewEngine(votes.EngineConfig{
		Submitter: client,
		Cache:     store,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	platform, err := push.NewSQLitePlatform(push.SQLitePlatformConfig{Database: db})
	if err != nil {
		return err
	}
	pushManager, err := push.NewManager(push.ManagerConfig{
		Platform: platform,
		Registry: client,
		Cache:    store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	connector, err := realtime.NewConnector(realtime.ConnectorConfig{
		Dispatcher: realtime.NewDispatcher(),
		NewSource:  newSourceFactory(appConfig, logger),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.Config{
		Parser:   auth.NewViewerParser(auth.ViewerParserConfig{SigningSecret: []byte(appConfig.SigningSecret)}),
		API:      client,
		Realtime: connector,
		Push:     pushManager,
		Votes:    engine,
		Cache:    store,
		Pages:    client,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Session:        sessions,
		Votes:          engine,
		Push:           pushManager,
		Permissions:    platform,
		Cache:          store,
		AllowedOrigins: appConfig.AllowedOrigins,
		FeedPageSize:   appConfig.FeedPageSize,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sessions.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event router stopped", zap.Error(err))
		}
	}()

	if appConfig.SessionToken != "" {
		if _, err := sessions.Login(signalCtx, appConfig.SessionToken); err != nil {
			logger.Warn("startup login failed", zap.Error(err))
		}
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions.Close(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		sessions.Close(context.Background())
		return err
	}
}

// newSourceFactory picks the real-time transport configured for the daemon.
func newSourceFactory(appConfig config.AppConfig, logger *zap.Logger) realtime.SourceFactory {
	if appConfig.RealtimeTransport == config.RealtimeTransportNATS {
		return func(token string) (realtime.Source, error) {
			source, err := realtime.NewNATSSource(realtime.NATSConfig{
				URL:     appConfig.RealtimeURL,
				Subject: appConfig.RealtimeNATSSubject,
				Token:   token,
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
			return source, nil
		}
	}
	return func(token string) (realtime.Source, error) {
		source, err := realtime.NewWebSocketSource(realtime.WebSocketConfig{
			URL:    appConfig.RealtimeURL,
			Token:  token,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return source, nil
	}
}
