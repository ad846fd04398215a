// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package kidserver

import (
	"log/slog"
	"sync"

	"github.com/kraklabs/kidmon/internal/metrics"
	"github.com/kraklabs/kidmon/pkg/comm"
)

// AgentManager arbitrates the single authorized-agent slot across every
// connection a Server accepts: at most one AgentConnection may hold
// Authorized state at a time. It is wired as
// the AuthFunc every AgentConnection is constructed with.
type AgentManager struct {
	logger *slog.Logger

	mu     sync.Mutex
	holder *comm.AgentConnection
}

// NewAgentManager builds an empty-slot manager.
func NewAgentManager(logger *slog.Logger) *AgentManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentManager{logger: logger}
}

// HasAuthorizedAgent reports whether some connection currently holds the slot.
func (m *AgentManager) HasAuthorizedAgent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder != nil
}

// OnAuth is the AuthFunc passed to comm.NewAgentConnection. ok=true with
// an empty slot claims it. ok=false from the current holder releases it.
// Any other call (a second connection successfully authorizing while the
// slot is held) is vetoed by flipping the connection back out of
// Authorized state before the reply is sent.
func (m *AgentManager) OnAuth(conn *comm.AgentConnection, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.holder == nil && ok:
		m.holder = conn
		metrics.AuthorizedAgent.Set(1)
		m.logger.Info("agentmanager.claimed", "user", conn.Username())
	case m.holder == conn && !ok:
		m.logger.Info("agentmanager.released", "user", conn.Username())
		m.holder = nil
		metrics.AuthorizedAgent.Set(0)
	case ok:
		// A second agent authorized with valid credentials while the slot
		// is already held: veto by forcing its state machine to close.
		m.logger.Warn("agentmanager.slot_taken", "user", conn.Username())
		conn.Close()
	}
}
