package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/matchcache/internal/app"
	"github.com/onnwee/matchcache/internal/config"
	"github.com/onnwee/matchcache/internal/errorreporting"
	"github.com/onnwee/matchcache/internal/logger"
	"github.com/onnwee/matchcache/internal/secrets"
	"github.com/onnwee/matchcache/internal/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (falling back to system env)")
	}

	cfg := config.Load()
	l := logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := errorreporting.Init(cfg); err != nil {
		l.Warn("sentry disabled", "error", err)
	}
	defer errorreporting.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init(cfg, "matchcache")
	if err != nil {
		l.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	a, err := app.New(cfg, l)
	if err != nil {
		l.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.StartBackground(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("server listening", "addr", cfg.ListenAddr, "store", cfg.StoreBackend, "remote", secrets.MaskURL(cfg.RemoteBaseURL))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("server failed", "error", err)
			errorreporting.CaptureError(err)
		}
	case <-ctx.Done():
		l.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error("graceful shutdown failed", "error", err)
		}
	}
}
