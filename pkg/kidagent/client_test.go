// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package kidagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kidmon/pkg/osiface"
	"github.com/kraklabs/kidmon/pkg/wire"
)

type fakeProbe struct {
	win WindowInfoOrNone
}

// WindowInfoOrNone lets tests express "no foreground window" without a
// pointer-to-struct dance.
type WindowInfoOrNone struct {
	Info osiface.WindowInfo
	Ok   bool
}

func (f fakeProbe) ForegroundWindow() (osiface.WindowInfo, bool) { return f.win.Info, f.win.Ok }

type fakeShooter struct {
	name string
	data []byte
	err  error
}

func (f fakeShooter) Capture(osiface.WindowInfo) (string, []byte, error) {
	return f.name, f.data, f.err
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

// fakeServer is a minimal stand-in for kidserver.Server/AgentConnection:
// it reads exactly one auth envelope, replies ok, then echoes a Response
// for every subsequent frame it receives.
type fakeServer struct {
	conn   net.Conn
	unpack *wire.Unpacker
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, unpack: wire.NewUnpacker()}
}

func (s *fakeServer) nextEnvelope(t *testing.T) wire.Envelope {
	t.Helper()
	var cur []byte
	buf := make([]byte, 4096)
	for {
		var n int
		var status wire.Status
		cur, n, status = s.unpack.Get(cur, wire.DefaultChunk)
		if status == wire.Ready {
			var env wire.Envelope
			require.NoError(t, json.Unmarshal(cur, &env))
			return env
		}
		if n == 0 {
			rn, err := s.conn.Read(buf)
			require.NoError(t, err)
			s.unpack.Put(buf[:rn])
		}
	}
}

func (s *fakeServer) reply(t *testing.T, resp wire.Response) {
	t.Helper()
	body, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = s.conn.Write(wire.Pack(body))
	require.NoError(t, err)
}

func TestDialAuthenticatesSuccessfully(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{ServerAddr: ln.Addr().String(), Username: "alice", Token: "tok", CaptureInterval: time.Hour}

	dialDone := make(chan struct {
		agent *Agent
		err   error
	}, 1)
	go func() {
		a, err := Dial(ctx, cfg, fakeProbe{}, nil, nil, nil)
		dialDone <- struct {
			agent *Agent
			err   error
		}{a, err}
	}()

	serverConn := <-accepted
	defer serverConn.Close()
	srv := newFakeServer(serverConn)

	env := srv.nextEnvelope(t)
	require.Equal(t, wire.MsgAuth, env.Name)
	var auth wire.AuthMessage
	require.NoError(t, json.Unmarshal(env.Message, &auth))
	require.Equal(t, "alice", auth.Username)
	require.Equal(t, "tok", auth.Token)
	srv.reply(t, wire.Response{Status: 0, Answer: wire.MarshalAuthAnswer(true)})

	result := <-dialDone
	require.NoError(t, result.err)
	require.NotNil(t, result.agent)
	result.agent.conn.Close()
}

func TestDialFailsOnRejection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{ServerAddr: ln.Addr().String(), Username: "bob", Token: "wrong", CaptureInterval: time.Hour}

	dialDone := make(chan error, 1)
	go func() {
		_, err := Dial(ctx, cfg, fakeProbe{}, nil, nil, nil)
		dialDone <- err
	}()

	serverConn := <-accepted
	defer serverConn.Close()
	srv := newFakeServer(serverConn)
	srv.nextEnvelope(t)
	srv.reply(t, wire.Response{Status: 0, Answer: wire.MarshalAuthAnswer(false)})

	err = <-dialDone
	require.Error(t, err)
}

func TestDialFailsOnInternalErrorStatus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{ServerAddr: ln.Addr().String(), Username: "bob", Token: "wrong", CaptureInterval: time.Hour}

	dialDone := make(chan error, 1)
	go func() {
		_, err := Dial(ctx, cfg, fakeProbe{}, nil, nil, nil)
		dialDone <- err
	}()

	serverConn := <-accepted
	defer serverConn.Close()
	srv := newFakeServer(serverConn)
	srv.nextEnvelope(t)
	srv.reply(t, wire.Response{Status: 1, Error: "malformed request"})

	err = <-dialDone
	require.Error(t, err)
}

// TestRunReturnsWhenServerClosesConnection exercises the transport-error
// path: the server hangs up without the agent ever calling conn.Close()
// itself, and Run must observe the resulting read error and return
// instead of blocking until ctx's deadline.
func TestRunReturnsWhenServerClosesConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDial()

	cfg := Config{ServerAddr: ln.Addr().String(), Username: "alice", Token: "tok", CaptureInterval: time.Hour}

	dialDone := make(chan struct {
		agent *Agent
		err   error
	}, 1)
	go func() {
		a, err := Dial(dialCtx, cfg, fakeProbe{}, nil, nil, nil)
		dialDone <- struct {
			agent *Agent
			err   error
		}{a, err}
	}()

	serverConn := <-accepted
	srv := newFakeServer(serverConn)
	srv.nextEnvelope(t)
	srv.reply(t, wire.Response{Status: 0, Answer: wire.MarshalAuthAnswer(true)})

	result := <-dialDone
	require.NoError(t, result.err)

	// Hang up from the server side without the agent ever closing its own
	// socket — this must surface as a transport error that the agent
	// itself turns into a Close, not a silent hang.
	serverConn.Close()

	runCtx, cancelRun := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelRun()

	runErr := make(chan error, 1)
	go func() { runErr <- result.agent.Run(runCtx) }()

	select {
	case err := <-runErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe the server closing the connection")
	}
}

func TestCollectOnceSkipsWithoutForegroundWindow(t *testing.T) {
	a := &Agent{
		cfg:    Config{Username: "alice"},
		probe:  fakeProbe{win: WindowInfoOrNone{Ok: false}},
		clock:  &fakeClock{t: time.Now()},
		hashes: NewCachedFileSha256(),
	}
	// collectOnce must return before touching a.comm (left nil here) when
	// there's no foreground window to report.
	require.NotPanics(t, func() { a.collectOnce() })
}

func TestBuildEntryAttachesSnapshotWhenDue(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	win := osiface.WindowInfo{Title: "Editor", BinaryPath: exe}
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := &Agent{
		cfg:     Config{Username: "alice", TakeSnapshots: true, SnapshotInterval: time.Minute},
		shooter: fakeShooter{name: "img-0101-000000.jpg", data: []byte("jpeg-bytes")},
		clock:   clk,
		hashes:  NewCachedFileSha256(),
		logger:  slog.Default(),
	}

	entry := a.buildEntry(win, clk.t)
	require.Equal(t, "img-0101-000000.jpg", entry.Wnd.Img.Name)
	require.True(t, entry.Wnd.Img.Encoded)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), entry.Wnd.Img.Bytes)
	require.Equal(t, exe, entry.Proc.Path)
	require.NotEmpty(t, entry.Proc.Sha256)
	require.Equal(t, clk.t.UnixMilli(), entry.TS.When)
}

func TestBuildEntrySkipsSnapshotWhenNotDue(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	win := osiface.WindowInfo{Title: "Editor", BinaryPath: exe}
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := &Agent{
		cfg:            Config{Username: "alice", TakeSnapshots: true, SnapshotInterval: time.Hour},
		shooter:        fakeShooter{name: "should-not-be-used.jpg", data: []byte("x")},
		clock:          clk,
		hashes:         NewCachedFileSha256(),
		logger:         slog.Default(),
		lastSnapshotAt: clk.t.Add(-time.Minute),
	}

	entry := a.buildEntry(win, clk.t)
	require.False(t, entry.Wnd.Img.Encoded)
	require.Empty(t, entry.Wnd.Img.Name)
}
