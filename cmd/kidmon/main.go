// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command kidmon runs either end of the agent/server monitoring pair: an
// agent that reports the foreground window of the active session, or
// the server that authorizes and persists what agents send it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kidmon/internal/errors"
	"github.com/kraklabs/kidmon/internal/ui"
	"github.com/kraklabs/kidmon/pkg/singleinstance"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("kidmon", flag.ContinueOnError)

	isAgent := fs.Bool("agent", false, "Run as the capture agent instead of the server")
	token := fs.String("token", "", "Shared secret the agent authenticates with")
	passive := fs.Bool("passive", false, "Server only: disable the spawn/health loop")
	addr := fs.String("addr", "127.0.0.1:7932", "Server: listen address. Agent: server address to dial")
	username := fs.String("username", "", "Agent: username to report under (defaults to the OS user)")
	dataDir := fs.String("data-dir", "", "Server: root directory for persisted reports (defaults to the platform data dir)")
	agentBinary := fs.String("agent-binary", "", "Server: path to the agent binary the health loop relaunches (defaults to the current executable)")
	captureInterval := fs.Duration("capture-interval", 5*time.Second, "Agent: foreground-window probe period")
	snapshotInterval := fs.Duration("snapshot-interval", time.Minute, "Agent: minimum time between two screenshot captures")
	healthInterval := fs.Duration("health-interval", 30*time.Second, "Server: spawn/health loop period")
	takeSnapshots := fs.Bool("snapshots", false, "Agent: capture and upload screenshots alongside window metadata")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty disables)")
	noColor := fs.Bool("no-color", false, "Disable colorized output")
	jsonOut := fs.Bool("json", false, "Log a JSON summary line instead of human-readable text")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kidmon [options]

Runs the monitoring server by default, or the capture agent with --agent.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	ui.InitColors(*noColor)
	logger := slog.Default()

	role := "server"
	lockUser := ""
	if *isAgent {
		role = "agent"
		lockUser = *username
	}
	lock, err := singleinstance.Acquire(singleinstance.Name(role, lockUser))
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"kidmon is already running",
			err.Error(),
			"Stop the other instance first, or check for a stale lock file under the OS temp directory.",
			nil,
		), *jsonOut)
		return 2
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("kidmon.shutdown_signal")
		cancel()
	}()

	if *metricsAddr != "" {
		startMetrics(ctx, *metricsAddr, logger)
	}

	if *isAgent {
		cfg := agentRunConfig{
			serverAddr:       *addr,
			username:         *username,
			token:            *token,
			captureInterval:  *captureInterval,
			snapshotInterval: *snapshotInterval,
			takeSnapshots:    *takeSnapshots,
		}
		if err := runAgent(ctx, cfg, logger); err != nil {
			errors.FatalError(errors.NewNetworkError(
				"Agent terminated", err.Error(), "Check that the server is reachable and the token is current.", err,
			), *jsonOut)
			return 1
		}
		return 0
	}

	cfg := serverRunConfig{
		listenAddr:     *addr,
		dataDir:        *dataDir,
		agentBinary:    *agentBinary,
		passive:        *passive,
		healthInterval: *healthInterval,
	}
	if err := runServer(ctx, cfg, logger); err != nil {
		errors.FatalError(errors.NewInternalError(
			"Server terminated", err.Error(), "", err,
		), *jsonOut)
		return 1
	}
	return 0
}
