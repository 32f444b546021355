// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/aoba-io/aoba/config"
)

func TestApplyStationsUpdateRejectsInvalidConfig(t *testing.T) {
	w := New("COM-test", 19200, config.Framing8N1)
	err := w.ApplyStationsUpdate([]config.StationConfig{
		{ID: 0, Mode: config.Slave, Map: config.RegisterMap{}},
	})
	if err == nil {
		t.Fatal("want ConfigInvalid error for broadcast station id, got nil")
	}
}

func TestApplyStationsUpdateIdempotent(t *testing.T) {
	w := New("COM-test", 19200, config.Framing8N1)
	stations := []config.StationConfig{
		{ID: 1, Mode: config.Slave, Map: config.RegisterMap{
			Holding: []config.RegisterRange{{AddressStart: 0, Length: 4}},
		}},
	}

	if err := w.ApplyStationsUpdate(stations); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := w.Status()

	if err := w.ApplyStationsUpdate(stations); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second := w.Status()

	if len(first.Stations) != len(second.Stations) {
		t.Fatalf("station count changed across idempotent apply: %d vs %d", len(first.Stations), len(second.Stations))
	}
	if first.Stations[0].ID != second.Stations[0].ID || first.Stations[0].Mode != second.Stations[0].Mode {
		t.Fatalf("station identity changed across idempotent apply")
	}
}

func TestApplyStationsUpdateRemovalClearsStatus(t *testing.T) {
	w := New("COM-test-removal", 19200, config.Framing8N1)

	// Directly exercise ApplyStationsUpdate without Run/open, since
	// unit tests cannot open a real serial device; Run's scheduler
	// wiring is covered by the scheduler package's own tests against
	// a net.Pipe transport.
	stations := []config.StationConfig{
		{ID: 9, Mode: config.Master, Map: config.RegisterMap{
			Holding: []config.RegisterRange{{AddressStart: 0, Length: 1}},
		}},
	}
	if err := w.ApplyStationsUpdate(stations); err != nil {
		t.Fatalf("apply with one master: %v", err)
	}
	if got := len(w.Status().Stations); got != 1 {
		t.Fatalf("stations = %d, want 1", got)
	}

	if err := w.ApplyStationsUpdate(nil); err != nil {
		t.Fatalf("apply removing all stations: %v", err)
	}
	if got := len(w.Status().Stations); got != 0 {
		t.Fatalf("stations after removal = %d, want 0", got)
	}
}

func TestRunCancelsCleanlyWithoutPort(t *testing.T) {
	// Run against a deliberately unopenable port name: Run should
	// retry on reopenInterval and return promptly once ctx is done,
	// never panicking or blocking past cancellation.
	w := New("/dev/__aoba_does_not_exist__", 19200, config.Framing8N1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(reopenInterval + time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	st := w.Status()
	if st.State == PortOK {
		t.Fatalf("state = %v, want non-OK for an unopenable port", st.State)
	}
}
