package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/changehub/api"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the harvest API",
		Long: `Serve keeps a browser running and exposes the harvest over HTTP:

  GET  /api/v1/health
  POST /api/v1/harvest       start a run (202, or 409 while one is active)
  GET  /api/v1/harvest/:id   poll a run
  GET  /api/v1/whatsnew      read the release notes`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().String("host", "", "Listen host (overrides server.host)")
	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides server.port)")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	// ── 1. Load configuration and logging ──────────────────────────
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		return errors.New("auth is enabled but no API keys are configured (auth.apiKeys or CHANGEHUB_API_KEYS)")
	}

	slog.Info("changehub starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"headless", cfg.Browser.Headless,
		"sink", cfg.Graph.Enabled(),
	)

	// ── 2. Launch browser and wire the pipeline ────────────────────
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	// ── 3. Setup router ────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.NewRouter(ctx, cfg, api.Deps{
		Runner:    a.runner,
		WhatsNew:  a.whatsNew,
		Browser:   true,
		StartTime: time.Now(),
		Version:   getVersion(),
	})

	// ── 4. Start HTTP server ───────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── 5. Graceful shutdown ───────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutdown signal received")

	// Give in-flight requests 5 seconds to complete. Cancelling ctx has
	// already stopped any harvest run.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// a.close() runs via defer: kills the browser, flushes webhooks.
	slog.Info("changehub stopped")
	return nil
}
