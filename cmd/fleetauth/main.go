// Command fleetauth serves the fleet authentication API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fleetyard/fleetauth"
	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/httpapi"
	"github.com/fleetyard/fleetauth/internal/appconfig"
	"github.com/fleetyard/fleetauth/internal/maintenance"
	"github.com/fleetyard/fleetauth/internal/sweep"
	"github.com/fleetyard/fleetauth/mail"
	otelexport "github.com/fleetyard/fleetauth/metrics/export/otel"
	promexport "github.com/fleetyard/fleetauth/metrics/export/prometheus"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FLEETAUTH_CONFIG"), "path to the YAML config file")
		envFile    = flag.String("env-file", ".env", "optional dotenv file")
		restore    = flag.String("restore", "", "restore a backup archive into the data dir and exit")
	)
	flag.Parse()

	cfg, err := appconfig.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if *restore != "" {
		if err := maintenance.Restore(*restore, cfg.App.DataDir); err != nil {
			logger.Fatal("restore failed", zap.Error(err))
		}
		logger.Info("restore complete", zap.String("archive", *restore), zap.String("data_dir", cfg.App.DataDir))
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fleetauth stopped", zap.Error(err))
	}
}

func newLogger(cfg appconfig.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg appconfig.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, closeUsers, err := newUserRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	builder := fleetauth.New().
		WithConfig(cfg.Auth).
		WithUserRepository(users).
		WithMailer(mail.NewLogSender(logger, cfg.Development())).
		WithLogger(logger)

	if cfg.App.RedisAddr != "" {
		rdb, err := newRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	// The global provider is a no-op unless the host installs one.
	if cfg.Auth.Metrics.Enabled {
		exp, err := otelexport.NewExporter(otel.Meter("github.com/fleetyard/fleetauth"), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer exp.Close()
	}

	sweeper, err := sweep.New(cfg.App.SweepSchedule, engine, logger)
	if err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}
	sweeper.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sweeper.Stop(stopCtx)
	}()

	ops := maintenance.New(maintenance.Config{
		DataDir:   cfg.App.DataDir,
		BackupDir: cfg.App.BackupDir,
		Retain:    cfg.App.BackupRetain,
	}, engine, logger)

	opts := httpapi.Options{
		Engine:     engine,
		Operations: ops,
		Logger:     logger,
		TrustProxy: cfg.App.TrustProxy,
	}
	if cfg.Auth.Metrics.Enabled {
		opts.Metrics = promexport.Handler(promexport.NewCollector(engine))
	}
	api, err := httpapi.New(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newUserRepository(ctx context.Context, cfg appconfig.Config, logger *zap.Logger) (credential.UserRepository, func(), error) {
	if cfg.App.DatabaseURL == "" {
		logger.Warn("no database configured; accounts are kept in memory and lost on restart")
		return credential.NewMemoryRepository(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.App.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	repo := credential.NewPostgresRepository(pool)
	if err := repo.Migrate(connectCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

func newRedis(ctx context.Context, cfg appconfig.Config) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.App.RedisAddr},
		Password: cfg.App.RedisPassword,
		DB:       cfg.App.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
