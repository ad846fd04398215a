// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the Prometheus counters/gauges the kidmon server
// and dups CLI accumulate during a run, served over an optional
// --metrics-addr HTTP endpoint. Every metric here is a plain
// package-level collector, explicitly registered against the default
// registry rather than via promauto.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesSent counts frames written to any peer by a Communicator.
	FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kidmon_frames_sent_total",
		Help: "Total number of wire frames successfully written to a peer.",
	})

	// FramesReceived counts frames fully deframed from any peer.
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kidmon_frames_received_total",
		Help: "Total number of wire frames fully reassembled from a peer.",
	})

	// ActiveConnections tracks connections currently accepted by the server.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kidmon_active_connections",
		Help: "Number of TCP connections currently accepted by the server.",
	})

	// AuthorizedAgent is 1 when some connection holds the single
	// authorized-agent slot, 0 otherwise.
	AuthorizedAgent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kidmon_authorized_agent",
		Help: "1 if an agent currently holds the authorized slot, 0 otherwise.",
	})

	// ScanBytesTotal accumulates bytes seen by the duplicate-engine scanner.
	ScanBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kidmon_scan_bytes_total",
		Help: "Total bytes observed across all files seen by a dups scan.",
	})

	// ScanFilesTotal accumulates files seen by the duplicate-engine scanner.
	ScanFilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kidmon_scan_files_total",
		Help: "Total files observed by a dups scan.",
	})
)

func init() {
	prometheus.MustRegister(
		FramesSent,
		FramesReceived,
		ActiveConnections,
		AuthorizedAgent,
		ScanBytesTotal,
		ScanFilesTotal,
	)
}

// Serve starts a /metrics HTTP endpoint at addr and blocks until ctx is
// cancelled. A plain http.Server with one handler doesn't warrant its
// own type.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
