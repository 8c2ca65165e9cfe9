//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/llmosd/llmosd/internal/config"
)

// initTailscale is a stub for builds without tsnet support.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	if cfg.Tailscale.Hostname != "" {
		slog.Warn("tailscale configured but this binary lacks tsnet support", "hint", "go build -tags tsnet")
	}
	return nil
}
