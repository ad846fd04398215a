// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"log/slog"

	"github.com/kraklabs/kidmon/internal/metrics"
)

// startMetrics launches the /metrics endpoint in the background; it logs
// and returns rather than failing the whole process if the listener
// can't bind, since metrics are a debug aid, not a load-bearing feature.
func startMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	go func() {
		if err := metrics.Serve(ctx, addr); err != nil {
			logger.Warn("metrics.serve_failed", "err", err)
		}
	}()
}
