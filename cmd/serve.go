package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmosd/llmosd/internal/bus"
	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/httpapi"
	"github.com/llmosd/llmosd/internal/personas"
	"github.com/llmosd/llmosd/internal/runtime"
	"github.com/llmosd/llmosd/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry is a no-op unless enabled in config.
	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := telemetryShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	hostClient := newHostClient(cfg)

	lib, err := personas.Open(cfg.PersonasPath(), cfg.Personas.Seed)
	if err != nil {
		slog.Error("failed to open persona library", "error", err)
		os.Exit(1)
	}
	defer lib.Close()
	if cfg.Personas.Watch {
		if err := lib.Watch(); err != nil {
			slog.Warn("persona watcher unavailable", "error", err)
		}
	}

	msgBus := bus.New()

	rt, err := runtime.New(cfg, hostClient, lib, msgBus)
	if err != nil {
		slog.Error("failed to create runtime", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("runtime close failed", "error", err)
		}
	}()

	server := httpapi.New(cfg, rt, msgBus)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	// Load the model into host memory before the first step needs it.
	if cfg.Host.WarmUpOnStart {
		go warmUpHost(ctx, hostClient, cfg.Inference.ModelName)
	}

	go func() {
		if err := rt.RunJanitor(ctx); err != nil {
			slog.Error("janitor stopped", "error", err)
		}
	}()

	slog.Info("llmosd starting",
		"version", Version,
		"host", cfg.Host.ServerURL,
		"model", cfg.Inference.ModelName,
		"format_mode", cfg.Inference.FormatMode,
		"storage", cfg.StoragePath(),
	)

	// Build the mux before initTailscale so an optional Tailscale listener
	// serves the same routes as the main one. Needs `go build -tags tsnet`.
	mux := server.BuildMux()
	tsCleanup := initTailscale(ctx, cfg, mux)
	if tsCleanup != nil {
		defer tsCleanup()
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newHostClient builds the model host client from config.
func newHostClient(cfg *config.Config) *host.Client {
	client := host.New(cfg.Host.ServerURL)
	if cfg.Host.RequestTimeoutSec > 0 {
		client = client.WithTimeout(time.Duration(cfg.Host.RequestTimeoutSec) * time.Second)
	}
	if cfg.Host.MaxRetries > 0 {
		rc := host.DefaultRetryConfig()
		rc.MaxRetries = cfg.Host.MaxRetries
		client = client.WithRetryConfig(rc)
	}
	return client
}

// warmUpHost issues an empty generate so the model is resident before
// the first conversation hits it.
func warmUpHost(ctx context.Context, client *host.Client, model string) {
	start := time.Now()
	if _, err := client.Generate(ctx, model, ""); err != nil {
		slog.Warn("model warm-up failed", "model", model, "error", err)
		return
	}
	slog.Info("model warmed up", "model", model, "duration", time.Since(start).Round(time.Millisecond))
}
