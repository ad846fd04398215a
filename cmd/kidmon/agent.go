// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/user"
	"time"

	"github.com/kraklabs/kidmon/internal/metrics"
	"github.com/kraklabs/kidmon/pkg/kidagent"
	"github.com/kraklabs/kidmon/pkg/osiface"
)

type agentRunConfig struct {
	serverAddr       string
	username         string
	token            string
	captureInterval  time.Duration
	snapshotInterval time.Duration
	takeSnapshots    bool
}

// runAgent dials the server, authenticates, and drives the capture loop
// until ctx is cancelled or the connection dies.
func runAgent(ctx context.Context, cfg agentRunConfig, logger *slog.Logger) error {
	username := cfg.username
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}

	var shooter osiface.Screenshotter
	if cfg.takeSnapshots {
		shooter = osiface.NullScreenshotter{}
	}

	dialCfg := kidagent.Config{
		ServerAddr:       cfg.serverAddr,
		Username:         username,
		Token:            cfg.token,
		CaptureInterval:  cfg.captureInterval,
		SnapshotInterval: cfg.snapshotInterval,
		TakeSnapshots:    cfg.takeSnapshots,
	}

	agent, err := kidagent.Dial(ctx, dialCfg, osiface.NullWindowProbe{}, shooter, osiface.RealClock{}, logger)
	if err != nil {
		return fmt.Errorf("kidmon: agent dial: %w", err)
	}
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	logger.Info("kidmon.agent_authorized", "username", username, "server", cfg.serverAddr)
	return agent.Run(ctx)
}
