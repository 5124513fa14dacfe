package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/realmlink/internal/client"
	"github.com/MrSnakeDoc/realmlink/internal/config"
	"github.com/MrSnakeDoc/realmlink/internal/connector"
	"github.com/MrSnakeDoc/realmlink/internal/httpserver"
	"github.com/MrSnakeDoc/realmlink/internal/httpserver/deps"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/redis"
	"github.com/MrSnakeDoc/realmlink/internal/registry"
	"github.com/MrSnakeDoc/realmlink/internal/store/memory"
	redisstore "github.com/MrSnakeDoc/realmlink/internal/store/redis"
	"github.com/MrSnakeDoc/realmlink/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	registry    *registry.Registry
	redisClient *goredis.Client
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	loggerClient.Debug("configuration loaded", logger.Any("config", cfg.Redacted()))

	var (
		store       registry.Store
		redisClient *goredis.Client
	)
	switch cfg.Store {
	case config.StoreMemory:
		loggerClient.Warn("using in-memory store, records are lost on restart")
		store = memory.New()
	default:
		// Fail fast if Redis stays unavailable; a signal aborts the retries.
		bootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		var err error
		redisClient, err = redis.New(bootCtx, redis.ConnectOptions{
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
		stop()
		if err != nil {
			loggerClient.Errorf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		store = redisstore.NewStore(redisClient, cfg.StorageKey)
	}

	reg := registry.New(store,
		registry.WithLogger(loggerClient),
		registry.WithClientOptions(
			client.WithTimeout(cfg.ClientTimeout),
			client.WithLogger(loggerClient),
		),
	)

	handler := connector.New(reg, nil,
		connector.WithEndpoint(cfg.Endpoint),
		connector.WithLogger(loggerClient),
	)

	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		AllowedHosts:  cfg.AllowedHosts,
		AllowedCIDRS:  cfg.AllowedCIDRS,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
		RateRefillMin: cfg.RateRefillMin,
		StoreBackend:  cfg.Store,
		Registry:      reg,
		Connector:     handler,
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg, loggerClient, d),
		registry:    reg,
		redisClient: redisClient,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting realmlink v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("realmlink %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logState(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return multierr.Append(err, a.closeStore())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if serr := a.server.Stop(shutdownCtx); serr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to stop server: %w", serr))
	}
	err = multierr.Append(err, a.closeStore())
	if err != nil {
		return err
	}

	a.logger.Info("✅ realmlink stopped cleanly")
	return nil
}

func (a *App) logState(ctx context.Context) {
	state, err := a.registry.State(ctx)
	if err != nil {
		a.logger.Warn("could not read bootstrap state", logger.Error(err))
		return
	}
	if !state.Configured() {
		a.logger.Info("service is not configured yet, waiting for setup",
			logger.String("endpoint", a.cfg.Endpoint),
			logger.Bool("connector", state.ConnectorPresent))
		return
	}
	a.logger.Info("service configured",
		logger.String("uuid", state.ThisUUID),
		logger.Bool("connector", state.ConnectorPresent))
}

func (a *App) closeStore() error {
	if a.redisClient == nil {
		return nil
	}
	if err := a.redisClient.Close(); err != nil {
		return fmt.Errorf("failed to close redis: %w", err)
	}
	a.logger.Info("✅ Redis closed cleanly")
	return nil
}
