// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kraklabs/kidmon/internal/metrics"
	"github.com/kraklabs/kidmon/pkg/comm"
	"github.com/kraklabs/kidmon/pkg/kidserver"
	"github.com/kraklabs/kidmon/pkg/netconn"
	"github.com/kraklabs/kidmon/pkg/osiface"
	"github.com/kraklabs/kidmon/pkg/repo"
)

type serverRunConfig struct {
	listenAddr     string
	dataDir        string
	agentBinary    string
	passive        bool
	healthInterval time.Duration
}

// dynamicTokenAuthorizer holds the single shared token the health loop
// mints on every spawn; the agent dialing in must present this exact
// value, matching the reference AuthorizationHandler::setToken contract
// of one live secret at a time.
type dynamicTokenAuthorizer struct {
	mu    sync.RWMutex
	token string
}

func (d *dynamicTokenAuthorizer) setToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.token = token
}

func (d *dynamicTokenAuthorizer) Authorize(_, token string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.token != "" && token == d.token
}

// runServer accepts agent connections, arbitrates the single authorized
// slot, persists incoming entries, and — unless passive — keeps one
// agent alive via the health/spawn loop.
func runServer(ctx context.Context, cfg serverRunConfig, logger *slog.Logger) error {
	dataDir := cfg.dataDir
	if dataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return fmt.Errorf("kidmon: resolve data dir: %w", err)
		}
		dataDir = dir
	}
	reportsDir := filepath.Join(dataDir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("kidmon: create reports dir: %w", err)
	}
	sink := repo.NewFileSystemRepository(reportsDir)

	authorizer := &dynamicTokenAuthorizer{}
	manager := kidserver.NewAgentManager(logger)

	createConn := func(socket net.Conn) *comm.AgentConnection {
		nc := netconn.New(socket, netconn.DefaultBufferSize, peerDropTimeout(cfg.healthInterval))
		ac := comm.NewAgentConnection(nc, authorizer, sink, manager.OnAuth, logger)
		ac.SetActiveUserFunc(func() string {
			u, err := osiface.OSUserProbe{}.ActiveUsername()
			if err != nil {
				return ""
			}
			return u
		})
		metrics.ActiveConnections.Inc()
		nc.OnDisconnect(func() { metrics.ActiveConnections.Dec() })
		return ac
	}

	srv := kidserver.New(createConn, logger, kidserver.WithOnListening(func(port int) {
		logger.Info("kidmon.server_listening", "port", port)
	}))

	_, portStr, err := net.SplitHostPort(cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("kidmon: parse listen address %q: %w", cfg.listenAddr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("kidmon: parse listen port %q: %w", portStr, err)
	}

	if !cfg.passive {
		agentBinary := cfg.agentBinary
		if agentBinary == "" {
			if exe, err := os.Executable(); err == nil {
				agentBinary = exe
			}
		}
		health := kidserver.NewHealthLoop(manager, osiface.ExecLauncher{}, agentBinary, cfg.healthInterval, authorizer.setToken, logger)
		go health.Run(ctx)
	}

	return srv.Listen(ctx, port)
}

// peerDropTimeout mirrors the reference default of the health-check
// period plus a small grace window, so the idle timer's active-user
// check runs roughly once per health tick even on an otherwise-silent
// connection.
func peerDropTimeout(healthInterval time.Duration) time.Duration {
	return healthInterval + 2*time.Second
}

func defaultDataDir() (string, error) {
	if dir := os.Getenv("KIDMON_DATA_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", err
		}
		base = home
	}
	return filepath.Join(base, "kidmon"), nil
}
