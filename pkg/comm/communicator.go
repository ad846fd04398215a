// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package comm layers framed JSON messaging and a per-agent authorization
// state machine on top of pkg/netconn, the idiomatic-Go counterpart of
// the reference tcp::Communicator / AgentConnection pair.
package comm

import (
	"log/slog"
	"sync"

	"github.com/kraklabs/kidmon/pkg/netconn"
	"github.com/kraklabs/kidmon/pkg/wire"
)

// MsgFunc receives one fully-deframed message payload.
type MsgFunc func(payload []byte)

// AckFunc is notified once a queued SendAsync frame has been written (true)
// or failed (false).
type AckFunc func(ok bool)

type queuedFrame struct {
	data []byte
	ack  AckFunc
}

// Communicator drains a netconn.Conn's byte stream through a wire.Unpacker
// and dispatches whole messages to a single subscriber, while serializing
// outgoing frames through a FIFO queue so interleaved SendAsync calls
// reach the peer in submission order.
type Communicator struct {
	conn     *netconn.Conn
	unpacker *wire.Unpacker
	logger   *slog.Logger

	cur []byte // in-progress inbound frame; only touched from the read callback chain

	mu      sync.Mutex
	queue   []queuedFrame
	sending bool

	onMsg   MsgFunc
	started bool
}

// New builds a Communicator over conn. Call OnMsg before Start — the
// reference implementation enforces the same ordering.
func New(conn *netconn.Conn, logger *slog.Logger) *Communicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Communicator{conn: conn, unpacker: wire.NewUnpacker(), logger: logger}
}

// OnMsg registers the message-arrival callback. Only the most recent
// registration is kept — at most one subscriber at a time.
func (c *Communicator) OnMsg(f MsgFunc) { c.onMsg = f }

// Start posts the first read. Idempotent.
func (c *Communicator) Start() {
	if c.started {
		return
	}
	c.started = true
	c.conn.OnRead(c.handleRead)
	c.conn.OnError(func(err error) {
		c.logger.Debug("comm.read_error", "err", err)
	})
	c.conn.Read()
}

// handleRead feeds newly-arrived bytes to the unpacker and drains every
// complete frame it now holds before re-arming the next read.
func (c *Communicator) handleRead(data []byte) {
	c.unpacker.Put(data)
	for {
		var n int
		var status wire.Status
		c.cur, n, status = c.unpacker.Get(c.cur, wire.DefaultChunk)
		if status == wire.Ready {
			msg := c.cur
			c.cur = nil
			if c.onMsg != nil {
				c.onMsg(msg)
			}
			continue
		}
		if n == 0 {
			break
		}
	}
	c.conn.Read()
}

// SendAsync frames payload and enqueues it. If nothing is currently in
// flight, it kicks off the write chain immediately; otherwise the frame
// waits its turn in the FIFO queue.
func (c *Communicator) SendAsync(payload []byte, ack AckFunc) {
	if ack == nil {
		ack = func(bool) {}
	}
	framed := wire.Pack(payload)

	c.mu.Lock()
	c.queue = append(c.queue, queuedFrame{data: framed, ack: ack})
	kick := !c.sending
	if kick {
		c.sending = true
	}
	c.mu.Unlock()

	if kick {
		c.sendFront()
	}
}

func (c *Communicator) sendFront() {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.sending = false
		c.mu.Unlock()
		return
	}
	item := c.queue[0]
	c.mu.Unlock()

	var sentTok, errTok netconn.Token
	var once sync.Once
	finish := func(ok bool, err error) {
		once.Do(func() {
			c.conn.OffSent(sentTok)
			c.conn.OffError(errTok)
			if !ok {
				c.logger.Warn("comm.send_failed", "err", err)
			}
			c.mu.Lock()
			if len(c.queue) > 0 {
				c.queue = c.queue[1:]
			}
			c.mu.Unlock()
			item.ack(ok)
			c.sendFront()
		})
	}
	sentTok = c.conn.OnSent(func(int) { finish(true, nil) })
	errTok = c.conn.OnError(func(err error) { finish(false, err) })
	c.conn.Write(item.data)
}
