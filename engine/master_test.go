// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package engine

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/modbus/rtu"
	"github.com/aoba-io/aoba/store"
)

func newTestMaster(t *testing.T) *Master {
	t.Helper()
	ranges := config.RegisterMap{
		Holding: []config.RegisterRange{{AddressStart: 0, Length: 4}},
	}
	s := store.New(ranges)
	return NewMaster(0x05, ranges, s, 50*time.Millisecond, 200*time.Millisecond)
}

func TestMasterBuildPollEncodesReadHolding(t *testing.T) {
	m := newTestMaster(t)
	req := m.BuildPoll()

	f, err := rtu.DecodeFrame(req.Bytes)
	if err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if f.UnitID != 0x05 || f.Function != rtu.FuncCodeReadHoldingRegisters {
		t.Fatalf("unit=%d func=0x%02X", f.UnitID, f.Function)
	}
	if got := binary.BigEndian.Uint16(f.Payload[2:4]); got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
}

func TestMasterApplySuccessMirrorsValues(t *testing.T) {
	m := newTestMaster(t)
	req := m.BuildPoll()

	payload := []byte{8, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04}
	if err := m.ApplySuccess(req, payload); err != nil {
		t.Fatalf("ApplySuccess: %v", err)
	}

	words, err := m.Store.ReadWords(config.Holding, 0, 4)
	if err != nil {
		t.Fatalf("ReadWords: %v", err)
	}
	want := []uint16{1, 2, 3, 4}
	for i, w := range want {
		if words[i] != w {
			t.Fatalf("word %d = %d, want %d", i, words[i], w)
		}
	}

	if m.ConsecutiveFailures() != 0 {
		t.Fatalf("failures = %d, want 0 after success", m.ConsecutiveFailures())
	}
}

func TestMasterApplyTimeoutBackoff(t *testing.T) {
	m := newTestMaster(t)
	before := m.NextPollAt()
	m.ApplyTimeout()
	after := m.NextPollAt()

	if !after.After(before) {
		t.Fatalf("NextPollAt did not advance after timeout")
	}
	if m.ConsecutiveFailures() != 1 {
		t.Fatalf("failures = %d, want 1", m.ConsecutiveFailures())
	}
}

func TestMasterBackoffCapsAtThirtySeconds(t *testing.T) {
	// 2 s << 5 = 64 s uncapped, so the 30 s ceiling is what bounds it.
	ranges := config.RegisterMap{Holding: []config.RegisterRange{{AddressStart: 0, Length: 4}}}
	m := NewMaster(0x05, ranges, store.New(ranges), 2*time.Second, 200*time.Millisecond)
	for i := 0; i < 10; i++ {
		m.ApplyTimeout()
	}
	backoff := time.Until(m.NextPollAt())
	if backoff > 30*time.Second+time.Second {
		t.Fatalf("backoff = %v, want capped near 30s", backoff)
	}
}

func TestMasterApplyExceptionRecordsCodeAndBacksOff(t *testing.T) {
	m := newTestMaster(t)
	m.ApplyException(rtu.ExceptionIllegalAddress)

	code, ok := m.LastException()
	if !ok || code != rtu.ExceptionIllegalAddress {
		t.Fatalf("LastException = (%v, %v), want (%v, true)", code, ok, rtu.ExceptionIllegalAddress)
	}
	if m.ConsecutiveFailures() != 1 {
		t.Fatalf("failures = %d, want 1", m.ConsecutiveFailures())
	}
}

func TestMasterExceptionClearedByNextSuccess(t *testing.T) {
	m := newTestMaster(t)
	m.ApplyException(rtu.ExceptionServerFailure)

	req := m.BuildPoll()
	payload := []byte{8, 0, 1, 0, 2, 0, 3, 0, 4}
	if err := m.ApplySuccess(req, payload); err != nil {
		t.Fatalf("ApplySuccess: %v", err)
	}

	if _, ok := m.LastException(); ok {
		t.Fatalf("exception flag still set after success")
	}
}

func TestMasterRotatesAcrossMultipleRanges(t *testing.T) {
	ranges := config.RegisterMap{
		Coils:   []config.RegisterRange{{AddressStart: 0, Length: 8}},
		Holding: []config.RegisterRange{{AddressStart: 0, Length: 4}},
	}
	s := store.New(ranges)
	m := NewMaster(0x01, ranges, s, time.Second, time.Second)

	first := m.BuildPoll()
	second := m.BuildPoll()
	if first.Kind == second.Kind {
		t.Fatalf("expected rotation across kinds, got %v then %v", first.Kind, second.Kind)
	}
}
