// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package kidserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kidmon/pkg/comm"
	"github.com/kraklabs/kidmon/pkg/netconn"
	"github.com/kraklabs/kidmon/pkg/wire"
)

type nopSink struct{}

func (nopSink) Add(string, wire.Entry) error { return nil }

// newAuthorizedPair wires a socket pair into an AgentConnection/manager
// and drives the handshake to completion, returning the connection and
// its peer socket for further interaction.
func newAuthorizedPair(t *testing.T, mgr *AgentManager, token string) (*comm.AgentConnection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ac := comm.NewAgentConnection(netconn.New(server, 0, 0), comm.StaticTokenAuthorizer{Token: token}, nopSink{}, mgr.OnAuth, nil)
	ac.Start()
	return ac, client
}

func sendAuth(t *testing.T, conn net.Conn, username, token string) {
	t.Helper()
	payload, err := wire.EncodeAuth(username, token)
	require.NoError(t, err)
	// EncodeAuth already frames the payload; write it directly.
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestAgentManagerSlotArbitration mirrors spec scenario 6: C1 authorizes
// and claims the slot; C2 authorizes with valid credentials but is
// vetoed and closed; after C1 disconnects, C3 can claim the slot.
func TestAgentManagerSlotArbitration(t *testing.T) {
	mgr := NewAgentManager(nil)
	const token = "shared-secret"

	c1, p1 := newAuthorizedPair(t, mgr, token)
	sendAuth(t, p1, "alice", token)
	require.True(t, waitUntil(t, time.Second, func() bool { return c1.State() == comm.StateAuthorized }))
	require.True(t, mgr.HasAuthorizedAgent())

	c2, p2 := newAuthorizedPair(t, mgr, token)
	sendAuth(t, p2, "alice-dup", token)
	require.True(t, waitUntil(t, time.Second, func() bool { return c2.State() == comm.StateDisconnected }))
	require.Equal(t, comm.StateAuthorized, c1.State()) // c1 keeps the slot

	c1.Close()
	require.True(t, waitUntil(t, time.Second, func() bool { return !mgr.HasAuthorizedAgent() }))

	c3, p3 := newAuthorizedPair(t, mgr, token)
	sendAuth(t, p3, "bob", token)
	require.True(t, waitUntil(t, time.Second, func() bool { return c3.State() == comm.StateAuthorized }))
	require.True(t, mgr.HasAuthorizedAgent())
}

// TestAgentManagerReleasesSlotOnPeerDisconnect exercises spec §4.8's
// "~AgentConnection transitions to Disconnected and calls the auth
// callback (conn, false)" on a transport error, not just an explicit
// Close() call: the peer hangs up its end of the socket, and the slot
// must still be released so a later connection can claim it.
func TestAgentManagerReleasesSlotOnPeerDisconnect(t *testing.T) {
	mgr := NewAgentManager(nil)
	const token = "shared-secret"

	c1, p1 := newAuthorizedPair(t, mgr, token)
	sendAuth(t, p1, "alice", token)
	require.True(t, waitUntil(t, time.Second, func() bool { return c1.State() == comm.StateAuthorized }))
	require.True(t, mgr.HasAuthorizedAgent())

	// The peer disconnects without the server ever calling c1.Close() —
	// this must surface as a transport error that tears c1 down and
	// releases the slot on its own.
	p1.Close()
	require.True(t, waitUntil(t, time.Second, func() bool { return c1.State() == comm.StateDisconnected }))
	require.True(t, waitUntil(t, time.Second, func() bool { return !mgr.HasAuthorizedAgent() }))

	c2, p2 := newAuthorizedPair(t, mgr, token)
	sendAuth(t, p2, "bob", token)
	require.True(t, waitUntil(t, time.Second, func() bool { return c2.State() == comm.StateAuthorized }))
	require.True(t, mgr.HasAuthorizedAgent())
}
