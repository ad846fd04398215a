// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package comm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kraklabs/kidmon/pkg/netconn"
	"github.com/kraklabs/kidmon/pkg/wire"
)

// State is the per-connection lifecycle.
type State int

const (
	StateConnected State = iota
	StateAuthorized
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthorized:
		return "authorized"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// AuthFunc is notified once per authorization attempt, success or
// failure, so an AgentManager can arbitrate the single authorized slot.
type AuthFunc func(conn *AgentConnection, ok bool)

// AgentConnection drives one socket through Connected -> Authorized ->
// Disconnected. Before authorization every inbound message must be an
// `auth` envelope; afterward every inbound message must be a `data`
// envelope. Any protocol violation or handler error is fatal to the
// connection.
type AgentConnection struct {
	conn *netconn.Conn
	comm *Communicator

	authorizer Authorizer
	sink       DataSink
	onAuth     AuthFunc
	logger     *slog.Logger

	mu       sync.Mutex
	state    State
	username string
	activeFn func() string
}

// NewAgentConnection wires conn to authorizer/sink. onAuth, if non-nil,
// fires once per authorization attempt before the connection either
// settles into StateAuthorized or closes.
func NewAgentConnection(conn *netconn.Conn, authorizer Authorizer, sink DataSink, onAuth AuthFunc, logger *slog.Logger) *AgentConnection {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AgentConnection{
		conn:       conn,
		authorizer: authorizer,
		sink:       sink,
		onAuth:     onAuth,
		logger:     logger,
		state:      StateConnected,
	}
	a.comm = New(conn, logger)
	a.comm.OnMsg(a.handleMessage)
	conn.OnTimeout(a.handleTimeout)
	// A transport-level read or write error means the peer is gone (or the
	// socket is otherwise unusable); close the connection ourselves so the
	// state machine transitions to Disconnected and releases the auth
	// slot, matching the "owning component closes the connection" rule.
	conn.OnError(func(err error) { a.fail(err) })
	return a
}

// Start begins reading from the underlying connection.
func (a *AgentConnection) Start() { a.comm.Start() }

// State returns the connection's current lifecycle state.
func (a *AgentConnection) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Username returns the authenticated username, valid once State() is
// StateAuthorized.
func (a *AgentConnection) Username() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.username
}

// SetActiveUserFunc installs the per-tick active-OS-user probe the idle
// timer uses once authorized: if the session owner no longer matches the
// authenticated username, the connection is dropped even though traffic
// may still be flowing — past authorization this is the timer's real
// job, not silence detection.
func (a *AgentConnection) SetActiveUserFunc(f func() string) { a.activeFn = f }

// Close tears down the connection and marks it Disconnected.
func (a *AgentConnection) Close() {
	a.transitionTo(StateDisconnected)
	a.conn.Close()
}

// transitionTo mirrors the reference AgentConnection::transitionTo: the
// auth callback fires exactly when a connection newly claims
// StateAuthorized (success) or newly leaves it (whatever the reason —
// protocol error, idle timeout, explicit Close). A caller that already
// knows the outcome (handleAuth, immediately after Authorize) should
// still route through here so AgentManager sees every edge exactly once.
func (a *AgentConnection) transitionTo(s State) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()

	if a.onAuth == nil || prev == s {
		return
	}
	switch {
	case prev == StateConnected && s == StateAuthorized:
		a.onAuth(a, true)
	case prev == StateAuthorized:
		a.onAuth(a, false)
	}
}

func (a *AgentConnection) handleTimeout() {
	if a.State() == StateConnected {
		a.fail(errors.New("idle timeout before authorization"))
		return
	}
	if a.State() != StateAuthorized || a.activeFn == nil {
		return
	}
	active := a.activeFn()
	username := a.Username()
	if username != "" && active != "" && username != active {
		a.fail(fmt.Errorf("active user changed from %q to %q", username, active))
	}
}

func (a *AgentConnection) handleMessage(payload []byte) {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		a.fail(fmt.Errorf("malformed envelope: %w", err))
		return
	}

	switch a.State() {
	case StateConnected:
		a.handleAuth(env)
	case StateAuthorized:
		a.handleData(env)
	default:
	}
}

// handleAuth follows the reference AuthorizationHandler contract: a bad
// token, bad shape, or missing username all count as an auth failure and
// still get a reply — status 0, answer {authorized:false} — since the
// transport itself is healthy. Only a framing-level protocol violation
// (the envelope's name doesn't even say "auth") closes the connection
// with no response at all.
func (a *AgentConnection) handleAuth(env wire.Envelope) {
	if env.Name != wire.MsgAuth {
		a.fail(errors.New("protocol violation: expected auth"))
		return
	}
	var msg wire.AuthMessage
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		a.respondThenClose(wire.MarshalAuthAnswer(false), fmt.Errorf("malformed auth message: %w", err))
		return
	}

	if msg.Username == "" || !a.authorizer.Authorize(msg.Username, msg.Token) {
		a.respondThenClose(wire.MarshalAuthAnswer(false), errors.New("authorization rejected"))
		return
	}

	a.mu.Lock()
	a.username = msg.Username
	a.mu.Unlock()
	a.transitionTo(StateAuthorized)

	// onAuth (fired from transitionTo) may veto — e.g. an AgentManager
	// already holding the slot calls Close() from inside the callback —
	// so re-check before replying. A veto already tore the socket down,
	// so there is nothing left to reply to.
	if a.State() != StateAuthorized {
		return
	}
	a.respondOK(wire.MarshalAuthAnswer(true))
}

func (a *AgentConnection) handleData(env wire.Envelope) {
	if env.Name != wire.MsgData {
		a.fail(errors.New("protocol violation: expected data"))
		return
	}
	var msg wire.DataMessage
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		a.respondErrorThenClose(fmt.Errorf("malformed data message: %w", err))
		return
	}
	if err := a.sink.Add(msg.Username, msg.Entry); err != nil {
		a.respondErrorThenClose(err)
		return
	}
	a.respondOK(nil)
}

func (a *AgentConnection) respondOK(answer json.RawMessage) {
	payload, err := json.Marshal(wire.Response{Status: 0, Answer: answer})
	if err != nil {
		a.logger.Error("agentconn.encode_response_failed", "err", err)
		return
	}
	a.comm.SendAsync(payload, nil)
}

// respondThenClose sends answer and closes the connection once the write
// has been attempted, so a rejected peer still gets its reply instead of
// racing a Close against the in-flight send.
func (a *AgentConnection) respondThenClose(answer json.RawMessage, reason error) {
	payload, err := json.Marshal(wire.Response{Status: 0, Answer: answer})
	if err != nil {
		a.logger.Error("agentconn.encode_response_failed", "err", err)
		a.fail(reason)
		return
	}
	a.comm.SendAsync(payload, func(bool) { a.fail(reason) })
}

// respondErrorThenClose sends a non-zero-status Response carrying reason's
// text, then closes — the "internal handler error" half of the error
// handling design, distinct from an auth failure's status-0 reply.
func (a *AgentConnection) respondErrorThenClose(reason error) {
	payload, err := json.Marshal(wire.Response{Status: 1, Error: reason.Error()})
	if err != nil {
		a.logger.Error("agentconn.encode_response_failed", "err", err)
		a.fail(reason)
		return
	}
	a.comm.SendAsync(payload, func(bool) { a.fail(reason) })
}

func (a *AgentConnection) fail(err error) {
	a.logger.Warn("agentconn.closing", "state", a.State().String(), "err", err)
	a.Close()
}
