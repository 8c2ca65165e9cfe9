//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/llmosd/llmosd/internal/config"
)

// initTailscale starts a tsnet listener serving mux on the tailnet.
// Returns a cleanup func, or nil when Tailscale is not configured.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	if cfg.Tailscale.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}
	if cfg.Tailscale.StateDir != "" {
		srv.Dir = config.ExpandHome(cfg.Tailscale.StateDir)
	}

	var ln net.Listener
	var err error
	if cfg.Tailscale.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Error("tailscale listener failed", "hostname", cfg.Tailscale.Hostname, "error", err)
		srv.Close()
		return nil
	}

	slog.Info("tailscale listener up", "hostname", cfg.Tailscale.Hostname, "tls", cfg.Tailscale.EnableTLS)

	go func() {
		if serveErr := http.Serve(ln, mux); serveErr != nil && ctx.Err() == nil {
			slog.Warn("tailscale serve stopped", "error", serveErr)
		}
	}()

	return func() {
		ln.Close()
		srv.Close()
	}
}
