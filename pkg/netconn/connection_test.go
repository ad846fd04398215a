// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package netconn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestReadFiresOnRead(t *testing.T) {
	a, b := pipe(t)
	c := New(a, 0, 0)

	got := make(chan []byte, 1)
	c.OnRead(func(data []byte) {
		buf := append([]byte(nil), data...)
		got <- buf
	})
	c.Read()

	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-got:
		require.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onRead")
	}
	c.Wait()
}

func TestWriteFiresOnSent(t *testing.T) {
	a, b := pipe(t)
	c := New(a, 0, 0)

	sent := make(chan int, 1)
	c.OnSent(func(n int) { sent <- n })

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 16)
		b.Read(buf)
		close(readDone)
	}()

	c.Write([]byte("payload"))
	select {
	case n := <-sent:
		require.Equal(t, 7, n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onSent")
	}
	<-readDone
	c.Wait()
}

func TestCloseIsIdempotentAndFiresDisconnectOnce(t *testing.T) {
	a, _ := pipe(t)
	c := New(a, 0, 0)

	count := 0
	c.OnDisconnect(func() { count++ })

	c.Close()
	c.Close()
	c.Close()
	require.Equal(t, 1, count)
}

func TestIdleTimerFiresOnTimeout(t *testing.T) {
	a, _ := pipe(t)
	c := New(a, 0, 20*time.Millisecond)

	fired := make(chan struct{}, 1)
	c.OnTimeout(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	c.armTimer()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle timer")
	}
	c.Close()
}

func TestTimeoutSilentAfterClose(t *testing.T) {
	a, _ := pipe(t)
	c := New(a, 0, 10*time.Millisecond)

	fired := false
	c.OnTimeout(func() { fired = true })
	c.armTimer()
	c.Close()

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired)
}
