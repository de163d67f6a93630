// Platform server - runs mood detection behind HTTP and WebSocket endpoints
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

	"github.com/moodsync/platform/internal/app"
	"github.com/moodsync/platform/internal/config"
	"github.com/moodsync/platform/internal/inference"
	"github.com/moodsync/platform/internal/logging"
	"github.com/moodsync/platform/internal/resilience"
	"github.com/moodsync/platform/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := app.New(cfg)
	defer c.Manager.Close()

	srv := server.New(c.Manager, c.Client, server.Options{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	})

	go probeInference(ctx, c.Client)

	// Detection requests run up to the pipeline bound; websockets are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	go func() {
		slog.Info("platform server starting", "http", cfg.Server.HTTPAddr, "inference", cfg.Inference.URL,
			"capture", cfg.Audio.CaptureDuration, "bound", c.Pipeline.Bound())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

// probeInference logs whether the inference service is ready. Detection
// works either way; an unreachable service only means simulated signals.
func probeInference(ctx context.Context, client *inference.Client) {
	var h inference.Health
	err := resilience.Retry(ctx, resilience.ProbeRetryConfig(), func() error {
		var err error
		h, err = client.Health(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("inference service not reachable, detections will be simulated", "url", client.BaseURL(), "error", err)
		}
		return
	}
	slog.Info("inference service ready", "url", client.BaseURL(), "status", h.Status, "model_loaded", h.ModelLoaded)
}
