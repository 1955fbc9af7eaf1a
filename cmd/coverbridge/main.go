// Command coverbridge serves the Feishu ↔ Gaoding bridge: HTTP API, optional
// MCP endpoint, and the background maintenance loops.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/coverbridge/config"
	"github.com/hazyhaar/coverbridge/dbopen"
	"github.com/hazyhaar/coverbridge/imagezip"
	"github.com/hazyhaar/coverbridge/observability"
	"github.com/hazyhaar/coverbridge/server"
	"github.com/hazyhaar/coverbridge/shield"
	"github.com/hazyhaar/coverbridge/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	lvl, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("coverbridge", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema),
		dbopen.WithSchema(observability.Schema),
		dbopen.WithSchema(shield.Schema),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	if err := seedAdmin(ctx, st); err != nil {
		return err
	}

	if err := shield.ApplyRules(ctx, db, rateRules(cfg)); err != nil {
		return err
	}
	limiter := shield.NewRateLimiter(db)
	srv, err := server.New(ctx, server.Config{
		Store:               st,
		Events:              observability.NewEventLogger(db, observability.WithLogger(logger)),
		Limiter:             limiter,
		SessionSecret:       []byte(cfg.SessionSecret),
		GuestMode:           cfg.GuestMode,
		SecureCookies:       cfg.SecureCookies,
		MaxBody:             cfg.MaxArchiveBytes()*4/3 + 1<<20,
		FeishuBaseURL:       cfg.Feishu.BaseURL,
		FeishuTimeout:       cfg.Feishu.Timeout,
		FeishuUploadTimeout: cfg.Feishu.UploadTimeout,
		BatchSize:           cfg.Upload.BatchSize,
		Archive: imagezip.Config{
			MaxArchiveBytes: cfg.MaxArchiveBytes(),
			MaxEntryBytes:   cfg.MaxEntryBytes(),
		},
		MCPEnabled: cfg.MCPEnabled,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("coverbridge starting", "addr", cfg.Listen,
			"guest_mode", cfg.GuestMode, "mcp", cfg.MCPEnabled)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		slog.Info("coverbridge shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		limiter.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		observability.RunCleanup(gctx, db, cfg.EventRetDays, 24*time.Hour)
		return nil
	})
	return g.Wait()
}

// rateRules converts the configured overrides for shield.ApplyRules.
func rateRules(cfg *config.Config) map[string]shield.Rule {
	rules := make(map[string]shield.Rule, len(cfg.RateLimits))
	for route, rl := range cfg.RateLimits {
		rules[route] = shield.Rule{Burst: rl.Burst, Per: rl.Per, Enabled: !rl.Disabled}
	}
	return rules
}

// seedAdmin creates the admin account named by ADMIN_USERNAME and
// ADMIN_PASSWORD when both are set and the user does not exist yet.
func seedAdmin(ctx context.Context, st *store.Store) error {
	name, pass := os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")
	if name == "" || pass == "" {
		return nil
	}
	_, err := st.CreateUser(ctx, name, pass, "admin")
	if errors.Is(err, store.ErrUserExists) {
		return nil
	}
	if err == nil {
		slog.Info("admin user created", "username", name)
	}
	return err
}
