package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/config"
	"opsdesk.org/internal/grpcapi"
	"opsdesk.org/internal/httpapi"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/rbac"
	"opsdesk.org/internal/settings"
	"opsdesk.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := obs.NewLogger(cfg.App.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.Database.DSN, pg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	provider, err := settings.NewProvider(store, cfg.Settings.CacheTTL)
	if err != nil {
		return fmt.Errorf("init settings provider: %w", err)
	}
	defer provider.Close()

	auditLog, err := audit.NewService(store, audit.WithRetentionSource(provider))
	if err != nil {
		return fmt.Errorf("init audit service: %w", err)
	}
	roles, err := rbac.NewService(store, auditLog, log)
	if err != nil {
		return fmt.Errorf("init role service: %w", err)
	}
	guard := rbac.NewGuard(store)

	api := httpapi.New(httpapi.Options{
		Roles:         roles,
		Guard:         guard,
		AuditLog:      auditLog,
		Ready:         httpapi.ReadyProbe{DB: store.DB()},
		Log:           log,
		Version:       version,
		JWTSecret:     cfg.Auth.JWTSecret,
		Issuer:        cfg.Auth.Issuer,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	})
	if !api.SupportsTokens() {
		log.Warn("no JWT secret configured, API is running unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPC.Enabled {
		grpcSrv = grpcapi.New(store.DB(), log)
		go func() {
			if err := grpcSrv.Serve(cfg.GRPC.Addr, 0); err != nil {
				errCh <- fmt.Errorf("grpc listen: %w", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	log.Info("stopped")
	return nil
}
