// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package worker

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/aoba-io/aoba/ipc"
)

// ServeIPC accepts console connections on ln and drives them against w
// until ctx is cancelled: each connection receives the worker's
// current StatusSnapshot on every heartbeat tick, whether or not it
// changed, and may send StationsUpdate messages, applied through
// ApplyStationsUpdate. The latest update from any connection wins, per
// spec.md §5's "multiple console connections allowed, latest
// StationsUpdate wins" policy. Grounded on the teacher's
// Gateway.Start accept-loop shape (net.Listener, one goroutine per
// connection, context-cancelled shutdown).
func (w *Worker) ServeIPC(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.serveIPCConn(ctx, conn)
		}()
	}
}

func (w *Worker) serveIPCConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go w.pushStatus(ctx, done, conn)

	for {
		msg, err := ipc.ReadMessage(conn)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case ipc.StationsUpdate:
			if err := w.ApplyStationsUpdate(m.Stations); err != nil {
				slog.Warn("worker: rejected StationsUpdate", "port", w.name, "err", err)
			}
		case ipc.StateLockRequest:
			_ = ipc.WriteMessage(conn, ipc.StateLockAck{ID: m.ID, Granted: false})
		}
	}
}

// pushStatus publishes a StatusSnapshot on the heartbeat cadence, so
// every connected console sees an update at >=2 Hz regardless of how
// often the underlying state actually changes.
func (w *Worker) pushStatus(ctx context.Context, done <-chan struct{}, conn net.Conn) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
			snap := ipc.StatusSnapshot{Ports: []ipc.PortStatus{w.Status().ToIPC()}}
			if err := ipc.WriteMessage(conn, snap); err != nil {
				return
			}
		}
	}
}
