package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nkhunters/tool-calls-sanitizer/internal/config"
	"github.com/nkhunters/tool-calls-sanitizer/internal/ratelimit"
	"github.com/nkhunters/tool-calls-sanitizer/internal/server"
	"github.com/nkhunters/tool-calls-sanitizer/internal/store"
	"github.com/nkhunters/tool-calls-sanitizer/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	db, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "sanitizer.db"))
	if err != nil {
		log.Error("store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	limiter := ratelimit.New(cfg.RateLimitPerMinute, time.Minute)

	// Periodic cleanup of idle client buckets
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Cleanup(time.Hour)
		}
	}()

	h := server.NewHandler(cfg.Sanitizer(), tokens.NewCounter(), db, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.NewRouter(h, limiter),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("sanitizerd: listening", "addr", srv.Addr,
			"dedup", cfg.DeduplicationEnabled,
			"window", cfg.DeduplicationWindow,
			"retry_scope", cfg.RetryScope)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("sanitizerd: shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
		return
	}
	log.Info("sanitizerd: stopped")
}
