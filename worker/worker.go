// Copyright (c) 2025 Li Jinling. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package worker owns one serial port end to end: opening it, running
// its scheduler, applying StationsUpdate mutations, and publishing
// status snapshots. Adapted from the teacher's internal/gateway.Gateway,
// which owned a fixed set of upstream/downstream connections for one
// named gateway; Worker owns one physical port and a mutable station
// set instead, per the re-architecture note against global mutable
// port/status registries: a single value owns the port, and consoles
// read published snapshots rather than live engine objects.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/engine"
	"github.com/aoba-io/aoba/scheduler"
	"github.com/aoba-io/aoba/store"
	"github.com/aoba-io/aoba/transport/serial"
)

// heartbeatInterval is the ≥2 Hz StatusSnapshot publish cadence spec.md
// §4.7 requires.
const heartbeatInterval = 400 * time.Millisecond

// reopenInterval bounds how often a worker whose port is
// OccupiedByOther/Error retries opening it.
const reopenInterval = 5 * time.Second

const (
	defaultPollInterval = time.Second
	defaultPollTimeout  = time.Second
)

// Worker owns one named serial port: its physical handle (once open),
// its scheduler, and the current station set. All mutation flows
// through ApplyStationsUpdate, which swaps the station set and stores
// under w.mu and hands the master/slave swap to the scheduler's own
// goroutine through its mailbox, so Status() only ever observes
// complete updates.
type Worker struct {
	// id distinguishes this Worker instance in logs when a console or
	// test harness runs more than one against the same port name
	// (e.g. across a restart); generated once at New, not persisted.
	id      string
	name    string
	baud    uint32
	framing config.Framing

	mu         sync.RWMutex
	port       *serial.Port
	sched      *scheduler.Scheduler
	state      PortState
	openErrMsg string
	stations   []config.StationConfig
	stores     map[byte]*store.RegisterStore
	published  PortStatus
}

// New creates a Worker for the given port config. It does not open
// the port; call Run to open it and start serving.
func New(name string, baud uint32, framing config.Framing) *Worker {
	return &Worker{
		id:      uuid.NewString(),
		name:    name,
		baud:    baud,
		framing: framing,
		state:   PortError,
		stores:  make(map[byte]*store.RegisterStore),
	}
}

// Run opens the port (retrying on a bounded interval while it is busy
// or erroring) and drives the scheduler and heartbeat publisher until
// ctx is cancelled, at which point it performs the graceful shutdown
// sequence: scheduler drain, port close.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.openPort(); err != nil {
			w.mu.Lock()
			if isBusy(err) {
				w.state = PortOccupiedByOther
			} else {
				w.state = PortError
			}
			w.openErrMsg = err.Error()
			w.mu.Unlock()
			w.publish()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reopenInterval):
				continue
			}
		}
		break
	}

	w.mu.Lock()
	w.state = PortOK
	w.openErrMsg = ""
	w.mu.Unlock()
	w.publish()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := w.sched.Run(ctx); err != nil {
			slog.Error("worker: scheduler stopped with error", "worker_id", w.id, "port", w.name, "err", err)
		}
	}()

	go func() {
		defer wg.Done()
		w.heartbeat(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	w.mu.RLock()
	p := w.port
	stores := w.stores
	w.mu.RUnlock()
	closeStores(stores)

	if p != nil {
		return p.Close()
	}
	return nil
}

func (w *Worker) openPort() error {
	p, err := serial.Open(w.name, w.baud, w.framing)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.port = p
	w.sched = scheduler.New(p)
	w.mu.Unlock()
	return nil
}

func isBusy(err error) bool {
	oe, ok := err.(*serial.OpenError)
	return ok && oe.Kind == serial.OpenErrorBusy
}

// ApplyStationsUpdate validates and atomically swaps the entire
// station set. A ConfigInvalid error leaves the current state
// untouched. Applying the same update twice yields identical Status
// (aside from LastValues, which advances with live traffic, and
// per-operation failure counters).
func (w *Worker) ApplyStationsUpdate(stations []config.StationConfig) error {
	pc := config.PortConfig{Name: w.name, Baud: w.baud, Framing: w.framing, Stations: stations}
	if err := pc.Validate(); err != nil {
		return err
	}

	stores := make(map[byte]*store.RegisterStore, len(stations))
	masters := make([]*engine.Master, 0, len(stations))
	slaves := make(map[byte]*engine.Slave, len(stations))

	for _, st := range stations {
		s, err := newStationStore(st)
		if err != nil {
			return fmt.Errorf("worker: station %d: %w", st.ID, err)
		}
		stores[st.ID] = s

		switch st.Mode {
		case config.Master:
			interval := millisOr(st.PollIntervalMillis, defaultPollInterval)
			timeout := millisOr(st.PollTimeoutMillis, defaultPollTimeout)
			masters = append(masters, engine.NewMaster(st.ID, st.Map, s, interval, timeout))
		case config.Slave:
			slaves[st.ID] = engine.NewSlave(st.ID, s)
		}
	}

	w.mu.Lock()
	oldStores := w.stores
	w.stations = stations
	w.stores = stores
	sched := w.sched
	w.mu.Unlock()

	if sched != nil {
		// Routed through the mailbox rather than called directly: the
		// scheduler loop applies the swap between network operations on
		// its own goroutine, so a poll or slave exchange already in
		// flight against the old masters/slaves always finishes before
		// oldStores is closed.
		sched.Enqueue(func(s *scheduler.Scheduler) {
			s.SetStations(masters, slaves)
			closeStores(oldStores)
		})
	} else {
		closeStores(oldStores)
	}
	w.publish()
	return nil
}

// closeStores releases every store's persistence backend (file handle,
// mmap, or database connection). Called after a station set is fully
// replaced, since ApplyStationsUpdate always builds fresh stores for
// the new set rather than reusing old ones; without this the old
// backend's handle leaks on every station update or removal.
func closeStores(stores map[byte]*store.RegisterStore) {
	for _, s := range stores {
		if err := s.Close(); err != nil {
			slog.Error("worker: closing register store persistence", "err", err)
		}
	}
}

func newStationStore(st config.StationConfig) (*store.RegisterStore, error) {
	if st.Persistence.Type == "" {
		return store.New(st.Map), nil
	}
	return store.NewWithPersistence(st.Map, store.NewPersistence(st.Persistence))
}

func millisOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Status returns the most recently published PortStatus.
func (w *Worker) Status() PortStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.published
}

// Station returns the register store and configured mode for the
// given station id, for bridges that need to run one transaction
// against a single station (the socket bridge) rather than replace
// the whole set (the HTTP bridge's POST).
func (w *Worker) Station(id byte) (s *store.RegisterStore, mode config.Mode, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok = w.stores[id]
	if !ok {
		return nil, 0, false
	}
	for _, st := range w.stations {
		if st.ID == id {
			mode = st.Mode
			break
		}
	}
	return s, mode, true
}

func (w *Worker) heartbeat(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.publish()
		}
	}
}

// publish rebuilds the PortStatus snapshot from the current scheduler
// and store state under a single read of w's fields, so a reader
// always sees a consistent point-in-time view.
func (w *Worker) publish() {
	w.mu.Lock()
	stations := w.stations
	stores := w.stores
	sched := w.sched
	state := w.state
	openErr := w.openErrMsg
	w.mu.Unlock()

	var masterByID map[byte]*engine.Master
	if sched != nil {
		masterByID = make(map[byte]*engine.Master)
		for _, m := range sched.Masters() {
			masterByID[m.UnitID] = m
		}
	}

	out := make([]StationStatus, 0, len(stations))
	for _, st := range stations {
		ss := StationStatus{ID: st.ID, Mode: st.Mode}
		if s, ok := stores[st.ID]; ok {
			ss.LastValues = s.Snapshot()
		}
		if st.Mode == config.Master {
			if m, ok := masterByID[st.ID]; ok {
				ss.ConsecutiveFailures = m.ConsecutiveFailures()
				if code, has := m.LastException(); has {
					ss.HasException = true
					ss.LastExceptionCode = code
				}
			}
		}
		out = append(out, ss)
	}

	w.mu.Lock()
	w.published = PortStatus{Name: w.name, State: state, LastOpenError: openErr, Stations: out}
	w.mu.Unlock()
}
