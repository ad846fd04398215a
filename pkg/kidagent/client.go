// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package kidagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kraklabs/kidmon/pkg/comm"
	"github.com/kraklabs/kidmon/pkg/netconn"
	"github.com/kraklabs/kidmon/pkg/osiface"
	"github.com/kraklabs/kidmon/pkg/wire"
)

// Config parameterizes one Agent run.
type Config struct {
	ServerAddr       string        // host:port the server listens on
	Username         string        // OS username this agent reports under
	Token            string        // shared secret minted by the server's health loop
	CaptureInterval  time.Duration // how often to probe the foreground window
	SnapshotInterval time.Duration // minimum time between two screenshot captures
	TakeSnapshots    bool
}

// Agent owns the client side of the protocol: dial, authenticate, then
// loop probing the foreground window and streaming Entry snapshots,
// grounded on the reference KidmonAgent::Impl's connect/collectData pair.
type Agent struct {
	cfg Config

	probe   osiface.ForegroundWindowProbe
	shooter osiface.Screenshotter // nil disables snapshot capture entirely
	clock   osiface.Clock
	hashes  *CachedFileSha256
	logger  *slog.Logger

	conn *netconn.Conn
	comm *comm.Communicator

	gotAuthResp    bool
	authResult     chan error
	lastSnapshotAt time.Time
}

// Dial connects to cfg.ServerAddr, sends the auth envelope, and blocks
// until the server's answer arrives or ctx is done. On success the
// returned Agent is ready for Run.
func Dial(ctx context.Context, cfg Config, probe osiface.ForegroundWindowProbe, shooter osiface.Screenshotter, clock osiface.Clock, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = osiface.RealClock{}
	}

	var d net.Dialer
	socket, err := d.DialContext(ctx, "tcp", cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("kidagent: dial %s: %w", cfg.ServerAddr, err)
	}

	a := &Agent{
		cfg:        cfg,
		probe:      probe,
		shooter:    shooter,
		clock:      clock,
		hashes:     NewCachedFileSha256(),
		logger:     logger,
		conn:       netconn.New(socket, 0, 0),
		authResult: make(chan error, 1),
	}
	a.comm = comm.New(a.conn, logger)
	a.comm.OnMsg(a.handleMessage)
	// A read or write transport error means the peer is gone; close the
	// socket ourselves so OnDisconnect fires and Run's disconnect channel
	// unblocks instead of waiting on a notification nothing ever sends.
	a.conn.OnError(func(err error) {
		a.logger.Debug("kidagent.transport_error", "err", err)
		a.conn.Close()
	})
	a.comm.Start()

	body, err := wire.AuthEnvelope(cfg.Username, cfg.Token)
	if err != nil {
		a.conn.Close()
		return nil, err
	}
	a.comm.SendAsync(body, nil)

	select {
	case err := <-a.authResult:
		if err != nil {
			a.conn.Close()
			return nil, err
		}
		return a, nil
	case <-ctx.Done():
		a.conn.Close()
		return nil, ctx.Err()
	}
}

// handleMessage implements the reference AgentMsgHandler split: the first
// message received on this connection is always the answer to the auth
// request; every message after that is an ack for a previously-sent data
// message and is merely logged.
func (a *Agent) handleMessage(payload []byte) {
	var resp wire.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		a.logger.Warn("kidagent.malformed_response", "err", err)
		return
	}
	if !a.gotAuthResp {
		a.gotAuthResp = true
		if resp.Status != 0 {
			a.authResult <- fmt.Errorf("kidagent: auth rejected: %s", resp.Error)
			return
		}
		var answer wire.AuthAnswer
		if len(resp.Answer) > 0 {
			if err := json.Unmarshal(resp.Answer, &answer); err != nil {
				a.authResult <- fmt.Errorf("kidagent: malformed auth answer: %w", err)
				return
			}
		}
		if !answer.Authorized {
			a.authResult <- errors.New("kidagent: authorization refused")
			return
		}
		a.authResult <- nil
		return
	}
	if resp.Status != 0 {
		a.logger.Warn("kidagent.data_rejected", "err", resp.Error)
	}
}

// Run drives the capture loop until ctx is cancelled or the connection
// dies. It never returns a non-nil error for a clean ctx cancellation.
func (a *Agent) Run(ctx context.Context) error {
	defer a.conn.Close()

	disconnected := make(chan struct{})
	tok := a.conn.OnDisconnect(func() { close(disconnected) })
	defer a.conn.OffDisconnect(tok)

	ticker := time.NewTicker(a.cfg.CaptureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-disconnected:
			return errors.New("kidagent: connection closed")
		case <-ticker.C:
			a.collectOnce()
		}
	}
}

// collectOnce mirrors KidmonAgent::Impl::collectData: skip the tick
// entirely if there's no foreground window or its process path is
// empty, otherwise build and send one Entry.
func (a *Agent) collectOnce() {
	win, ok := a.probe.ForegroundWindow()
	if !ok || win.BinaryPath == "" {
		return
	}
	entry := a.buildEntry(win, a.clock.Now())

	body, err := wire.DataEnvelope(a.cfg.Username, entry)
	if err != nil {
		a.logger.Error("kidagent.encode_failed", "err", err)
		return
	}
	a.comm.SendAsync(body, nil)
}

// buildEntry hashes win's binary, optionally attaches a snapshot (gated
// on cfg.TakeSnapshots and the snapshot interval), and stamps the
// result. Kept free of any I/O beyond the hash/capture calls so it can
// be exercised without a live connection.
func (a *Agent) buildEntry(win osiface.WindowInfo, start time.Time) wire.Entry {
	sum, err := a.hashes.Sha256(win.BinaryPath)
	if err != nil {
		a.logger.Debug("kidagent.hash_failed", "path", win.BinaryPath, "err", err)
		sum = ""
	}

	entry := wire.Entry{
		Proc: wire.ProcessInfo{Path: win.BinaryPath, Sha256: sum},
		Wnd: wire.WindowInfo{
			Title: win.Title,
			LT:    win.LeftTop,
			WH:    win.Dims,
		},
	}

	if a.shooter != nil && a.cfg.TakeSnapshots && a.snapshotDue(start) {
		if name, data, err := a.shooter.Capture(win); err != nil {
			a.logger.Debug("kidagent.snapshot_failed", "err", err)
		} else {
			entry.Wnd.Img = wire.ImagePart{
				Name:    name,
				Bytes:   base64.StdEncoding.EncodeToString(data),
				Encoded: true,
			}
			a.lastSnapshotAt = start
		}
	}

	entry.TS = wire.Timestamp{
		When: start.UnixMilli(),
		Dur:  a.clock.Now().Sub(start).Milliseconds(),
	}
	return entry
}

func (a *Agent) snapshotDue(now time.Time) bool {
	if a.lastSnapshotAt.IsZero() {
		return true
	}
	return now.Sub(a.lastSnapshotAt) >= a.cfg.SnapshotInterval
}
