package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quarterdeck/deck/internal/botdefense"
	"github.com/quarterdeck/deck/internal/config"
	"github.com/quarterdeck/deck/internal/gateway"
	"github.com/quarterdeck/deck/internal/healthcheck"
	"github.com/quarterdeck/deck/internal/logger"
	"github.com/quarterdeck/deck/internal/metrics"
	"github.com/quarterdeck/deck/internal/odalpapi"
	"github.com/quarterdeck/deck/internal/redis"
	"github.com/quarterdeck/deck/internal/registry"
	redisstore "github.com/quarterdeck/deck/internal/store/redis"
	"github.com/quarterdeck/deck/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *gateway.Server
	dispatcher  *healthcheck.Dispatcher
	redisClient *goredis.Client
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	metrics.MustRegister()

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	store := redisstore.NewStore(redisClient)

	// Seed the blocklist from previously persisted addresses so a
	// restart does not unblock anyone.
	seed, err := store.Blocklist(context.Background())
	if err != nil {
		loggerClient.Warn("failed to load persisted blocklist, starting empty",
			logger.Error(err))
	}
	blocklist := botdefense.NewBlocklist(seed, store, loggerClient)
	loggerClient.Info("blocklist loaded", logger.Int("addresses", blocklist.Len()))

	scorer := botdefense.NewScorer(cfg.BlockThreshold, cfg.DecayWindow, blocklist, loggerClient)

	reg, err := registry.Load(cfg.ServicesFile)
	if err != nil {
		loggerClient.Errorf("Failed to load services: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("service registry loaded", logger.Int("services", reg.Len()))

	odalClient := odalpapi.NewClient(loggerClient)

	var pinger *healthcheck.Pinger
	if cfg.PingURL != "" {
		pinger = healthcheck.NewPinger(cfg.PingURL, loggerClient)
	}

	dispatcher := healthcheck.New(healthcheck.Options{
		Registry:   reg,
		Plugins:    healthcheck.NewPlugins(),
		Odal:       odalClient,
		Pinger:     pinger,
		Logger:     loggerClient,
		Interval:   cfg.CheckInterval,
		Timeout:    cfg.CheckTimeout,
		Production: cfg.IsProduction(),
	})

	sessions := gateway.NewSessionManager(cfg, store, loggerClient)
	if !sessions.Enabled() {
		loggerClient.Info("admin credentials not configured, session gate disabled")
	}

	gw := gateway.New(cfg, reg, scorer, blocklist, sessions, loggerClient)
	server := gateway.NewServer(cfg, gw, dispatcher, loggerClient)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		dispatcher:  dispatcher,
		redisClient: redisClient,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Deck v%s for %s (%s mode)",
		version.Version, a.cfg.Domain, a.cfg.RunMode)
	a.logger.Infof("Deck %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start healthcheck dispatcher: %w", err)
	}
	a.logger.Info("healthcheck dispatcher started",
		logger.Duration("interval", a.cfg.CheckInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ Deck stopped cleanly")
	return nil
}
