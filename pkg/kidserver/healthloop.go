// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package kidserver

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/kraklabs/kidmon/pkg/osiface"
)

// HealthLoop periodically checks whether an authorized agent is running
// and, if not, generates a fresh shared token and relaunches the agent
// binary with it — the rewrite of KidmonServer::Impl::healthCheck. The
// timer re-arms on every tick regardless of outcome; a relaunch failure
// is logged and retried on the next tick.
type HealthLoop struct {
	manager     *AgentManager
	launcher    osiface.ProcessLauncher
	agentBinary string
	interval    time.Duration
	setToken    func(token string)
	logger      *slog.Logger
}

// NewHealthLoop builds a loop that ticks every interval. setToken is
// called with each freshly generated token so the caller's Authorizer
// picks it up before the relaunched agent can connect.
func NewHealthLoop(manager *AgentManager, launcher osiface.ProcessLauncher, agentBinary string, interval time.Duration, setToken func(token string), logger *slog.Logger) *HealthLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthLoop{
		manager:     manager,
		launcher:    launcher,
		agentBinary: agentBinary,
		interval:    interval,
		setToken:    setToken,
		logger:      logger,
	}
}

// Run blocks, ticking until ctx is cancelled.
func (h *HealthLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthLoop) tick() {
	if h.manager.HasAuthorizedAgent() {
		return
	}

	token, err := generateToken(16)
	if err != nil {
		h.logger.Error("healthloop.token_generation_failed", "err", err)
		return
	}
	h.setToken(token)

	if err := h.launcher.Launch(h.agentBinary, []string{"--token", token, "--agent"}); err != nil {
		h.logger.Error("healthloop.launch_failed", "err", err)
	}
}

// tokenAlphabet is the character set generateToken draws from, matching
// spec §4.12's "16-char alphanumeric token".
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateToken returns a random alphanumeric token of exactly n
// characters, drawn from the OS CSPRNG.
func generateToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out), nil
}
