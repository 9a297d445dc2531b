// cmd/tenantd/main.go
//
// tenantd: tenant database connection manager.
//
// Start-up sequence
// -----------------
//
//  1. Console logger for early boot, then config (defaults → .env → YAML →
//     TENANTD_ env).
//
//  2. Daily rotating file logger (tees to console when running in a TTY or
//     when log.console is set).
//
//  3. Open the control-plane registry DB and log the usable-tenant count.
//
//  4. Vault secrets source, only when database.password_secret is set.
//
//  5. Connection factory, tenant manager, and the provisioning service on
//     the engine's admin database.
//
//  6. Ops HTTP router (/healthz, /metrics, /tenants, /admin).
//
//  7. On SIGINT/SIGTERM: stop the listener, drain the connection cache, and
//     close the registry pool, all within timeouts.shutdown.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/httpapi"
	"github.com/yanizio/tenantdb/internal/logger"
	"github.com/yanizio/tenantdb/internal/provision"
	"github.com/yanizio/tenantdb/internal/secrets"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	boot, restore := logger.Bootstrap()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("load config", zap.Error(err))
	}

	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = filepath.Join(cfg.Paths.Root, "logs")
	}
	restore()
	lg, err := logger.New(logger.Options{Dir: logDir, Console: cfg.Log.Console || runningInTTY()})
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("tenantd exited with error", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	//
	// ── 1.  Control-plane registry ──────────────────────────────────────
	//
	lg.Info("connecting to registry DB", zap.String("driver", cfg.Registry.Driver))
	master, err := database.Open(ctx, cfg.Registry.Driver, cfg.Registry.DSN)
	if err != nil {
		return err
	}
	reg := registry.NewSQL(master, cfg.Timeouts.Lookup)

	if n, err := reg.CountUsable(ctx); err != nil {
		lg.Warn("usable tenant count failed", zap.Error(err))
	} else {
		lg.Info("registry online", zap.Int("usable_tenants", n))
	}

	//
	// ── 2.  Secrets (optional) ──────────────────────────────────────────
	//
	var src secrets.Source
	if cfg.Database.PasswordSecret != "" {
		v, err := secrets.NewVault(ctx, 5*time.Minute, lg.Named("vault"))
		if err != nil {
			master.Close()
			return err
		}
		src = v
	}

	//
	// ── 3.  Factory, manager, provisioning ──────────────────────────────
	//
	factory := tenant.NewFactory(cfg.Database, src, cfg.Timeouts.Connect, lg.Named("factory"))
	mgr := tenant.NewManager(tenant.Options{
		Registry:  reg,
		Connector: factory,
		Master:    master,
		LookupTTL: cfg.Cache.LookupTTL,
		Cache: tenant.ConnCacheOptions{
			Capacity:      cfg.Cache.Capacity,
			IdleTTL:       cfg.Cache.IdleTTL,
			SweepInterval: cfg.Cache.SweepInterval,
			CreateTimeout: cfg.Timeouts.Connect,
		},
		Logger: lg.Named("tenant"),
	})

	var prov httpapi.Provisioner
	adminDB, err := openAdmin(ctx, cfg, factory)
	if err != nil {
		lg.Warn("admin database unavailable, provisioning disabled", zap.Error(err))
	} else {
		defer adminDB.Close()
		prov = provision.New(provision.Options{
			Admin:   adminDB,
			Locator: factory,
			Host:    cfg.Database.Host,
			Port:    cfg.Database.Port,
			Timeout: cfg.Timeouts.Provision,
			Logger:  lg.Named("provision"),
		})
	}

	//
	// ── 4.  Ops HTTP server ─────────────────────────────────────────────
	//
	h := httpapi.NewRouter(httpapi.Options{Manager: mgr, Provisioner: prov, Logger: lg.Named("http")})
	srv := httpapi.NewServer(cfg.HTTP.ListenAddr, h, cfg.Timeouts.Provision)

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("listening", zap.String("addr", cfg.HTTP.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			lg.Error("http server failed", zap.Error(err))
		}
	}

	//
	// ── 5.  Graceful drain ──────────────────────────────────────────────
	//
	grace, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if err := srv.Shutdown(grace); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	return mgr.Close(grace)
}

// openAdmin connects to the engine's administrative database on the shared
// host, used only for CREATE DATABASE.
func openAdmin(ctx context.Context, cfg *config.Config, f *tenant.Factory) (*sqlx.DB, error) {
	dsn, err := f.DSN(ctx, tenant.Target{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.AdminDatabase,
	})
	if err != nil {
		return nil, err
	}
	return database.OpenWithOptions(ctx, cfg.Database.Driver, dsn, database.Options{MaxOpenConns: 2, MaxIdleConns: 1})
}
