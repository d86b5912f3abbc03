package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"peershare/internal/api"
	"peershare/internal/config"
	"peershare/internal/database"
	"peershare/internal/tracker"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	log.Logger = logger

	logger.Info().Msg("🚀 Starting Tracker Server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接存储后端
	db, err := database.New(ctx, cfg, database.RoleTracker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var registry tracker.Registry
	if db.Redis != nil {
		registry = db.Redis
	}
	tr, err := tracker.New(ctx, cfg.Tracker, db.Catalog(), registry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start tracker")
	}

	// 启动后台清理任务
	tr.StartSweep(ctx, cfg.Tracker.SweepInterval)

	go func() {
		logger.Info().Str("addr", cfg.Tracker.Addr).Msg("🎯 Tracker listening")
		if err := tr.ListenAndServe(cfg.Tracker.Addr); err != nil {
			logger.Fatal().Err(err).Msg("tracker failed")
		}
	}()

	var server *http.Server
	if cfg.Tracker.HTTPAddr != "" {
		mux := http.NewServeMux()
		api.NewHandler(tr, logger).RegisterRoutes(mux)
		server = &http.Server{
			Addr:         cfg.Tracker.HTTPAddr,
			Handler:      loggingMiddleware(logger, mux),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.Tracker.HTTPAddr).Msg("📡 Status API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("status API failed")
			}
		}()
	}

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("🛑 Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status API forced to shutdown")
		}
	}
	if err := tr.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracker shutdown incomplete")
	}

	logger.Info().Msg("✅ Server stopped gracefully")
}

// loggingMiddleware 记录所有请求
func loggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
