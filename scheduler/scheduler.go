// Copyright (c) 2025 Li Jinling. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package scheduler implements the single-threaded cooperative loop
// that multiplexes master polling and slave responses over one
// half-duplex serial port. Adapted from the teacher's
// transport/rtu.Server.scanLoop, which only ever played the slave
// (Upstream) role on a byte stream; Scheduler generalizes that loop to
// also drive master stations sharing the same physical line, and to
// take mutation commands from a bounded mailbox instead of a fixed
// handler set.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aoba-io/aoba/engine"
	"github.com/aoba-io/aoba/modbus/rtu"
	"github.com/aoba-io/aoba/transport/serial"
)

// readSlice bounds how long the generic listen read waits before the
// loop re-checks the nearest master deadline and the mailbox.
const readSlice = 100 * time.Millisecond

// mailboxCapacity is the bound on pending mutation commands; a worker
// that floods the mailbox faster than the loop drains it blocks on
// Enqueue, applying backpressure up to the IPC/HTTP/socket caller.
const mailboxCapacity = 32

// Command mutates scheduler state; it always runs on the scheduler's
// own goroutine, between network operations, so it never races the
// engines it touches.
type Command func(*Scheduler)

// Scheduler owns one serial port, the master and slave stations
// multiplexed over it, and the mailbox other cooperative tasks submit
// mutations through.
type Scheduler struct {
	Port *serial.Port

	mu      sync.Mutex
	masters []*engine.Master
	slaves  map[byte]*engine.Slave

	mailbox chan Command
}

// New builds a Scheduler bound to port with no stations configured;
// callers enqueue a SetStations command (or call it directly before
// Run) to populate the station set.
func New(port *serial.Port) *Scheduler {
	return &Scheduler{
		Port:    port,
		slaves:  make(map[byte]*engine.Slave),
		mailbox: make(chan Command, mailboxCapacity),
	}
}

// Enqueue submits cmd to run on the scheduler loop. It blocks if the
// mailbox is full, applying backpressure to the caller.
func (s *Scheduler) Enqueue(cmd Command) {
	s.mailbox <- cmd
}

// SetStations atomically replaces the master and slave station sets.
// Masters/slaves not present in the new set are simply dropped and
// never scheduled again. SetStations does not interrupt a poll: one
// already in flight for a dropped master completes and writes only
// into that master's own store.
func (s *Scheduler) SetStations(masters []*engine.Master, slaves map[byte]*engine.Slave) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters = masters
	s.slaves = slaves
}

// Masters returns the current master station set for status reporting.
func (s *Scheduler) Masters() []*engine.Master {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*engine.Master, len(s.masters))
	copy(out, s.masters)
	return out
}

// Run drives the cooperative loop described in the station scheduler
// algorithm until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.mailbox:
			cmd(s)
			continue
		default:
		}

		masters, slaves := s.snapshot()

		dm, hasMaster := earliestDeadline(masters)
		now := time.Now()

		var timeout time.Duration
		if hasMaster {
			timeout = dm.Sub(now)
			if timeout < 0 {
				timeout = 0
			}
			if timeout > readSlice {
				timeout = readSlice
			}
		} else {
			timeout = readSlice
		}

		raw, err := s.Port.ReadFrame(timeout)
		if err == nil {
			s.handleIncoming(raw, slaves)
			continue
		}

		now = time.Now()
		if hasMaster && !now.Before(dm) {
			s.pollEarliestMaster(masters)
		}
	}
}

func (s *Scheduler) snapshot() ([]*engine.Master, map[byte]*engine.Slave) {
	s.mu.Lock()
	defer s.mu.Unlock()
	masters := make([]*engine.Master, len(s.masters))
	copy(masters, s.masters)
	return masters, s.slaves
}

// earliestDeadline returns the minimum NextPollAt across masters.
func earliestDeadline(masters []*engine.Master) (time.Time, bool) {
	if len(masters) == 0 {
		return time.Time{}, false
	}
	best := masters[0].NextPollAt()
	for _, m := range masters[1:] {
		if t := m.NextPollAt(); t.Before(best) {
			best = t
		}
	}
	return best, true
}

// pickEarliestMaster selects the ready master with the earliest
// deadline, breaking ties by ascending unit id.
func pickEarliestMaster(masters []*engine.Master) *engine.Master {
	var best *engine.Master
	for _, m := range masters {
		if best == nil {
			best = m
			continue
		}
		bt, mt := best.NextPollAt(), m.NextPollAt()
		if mt.Before(bt) || (mt.Equal(bt) && m.UnitID < best.UnitID) {
			best = m
		}
	}
	return best
}

// handleIncoming decodes a frame collected by the generic listen read
// and, if it addresses a local slave station, answers it.
func (s *Scheduler) handleIncoming(raw []byte, slaves map[byte]*engine.Slave) {
	frame, err := rtu.DecodeFrame(raw)
	if err != nil {
		return
	}

	if frame.UnitID == 0 {
		// Broadcasts target every slave station sharing the port.
		for _, sl := range slaves {
			sl.Handle(frame)
		}
		return
	}

	sl, ok := slaves[frame.UnitID]
	if !ok {
		return
	}
	resp := sl.Handle(frame)
	if resp == nil {
		return
	}
	if err := s.Port.WriteFrame(resp); err != nil {
		slog.Error("scheduler: failed to write slave response", "err", err)
	}
}

// pollEarliestMaster runs one Polling -> Awaiting exchange for the
// station whose deadline is due.
func (s *Scheduler) pollEarliestMaster(masters []*engine.Master) {
	m := pickEarliestMaster(masters)
	if m == nil {
		return
	}

	req := m.BuildPoll()
	if err := s.Port.WriteFrame(req.Bytes); err != nil {
		slog.Error("scheduler: failed to write poll request", "err", err)
		m.ApplyTimeout()
		return
	}

	raw, err := s.Port.ReadFrame(m.Timeout)
	if err != nil {
		m.ApplyTimeout()
		return
	}

	frame, derr := rtu.DecodeFrame(raw)
	if derr != nil {
		m.ApplyTimeout()
		return
	}
	if frame.UnitID != m.UnitID {
		m.ApplyTimeout()
		return
	}

	if frame.IsException() {
		if frame.Function&^rtu.ExceptionFlag == req.Function {
			m.ApplyException(frame.ExceptionCode())
		} else {
			m.ApplyTimeout()
		}
		return
	}

	if frame.Function != req.Function {
		m.ApplyTimeout()
		return
	}

	if err := m.ApplySuccess(req, frame.Payload); err != nil {
		m.ApplyTimeout()
	}
}
