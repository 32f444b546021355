// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/engine"
	"github.com/aoba-io/aoba/modbus/rtu"
	"github.com/aoba-io/aoba/store"
	"github.com/aoba-io/aoba/transport/serial"
)

// fakeBus wires two *serial.Port over a net.Pipe, one for the
// scheduler under test, one for a simulated peer on the other end of
// the wire.
func fakeBus(t *testing.T, baud uint32) (*serial.Port, *serial.Port) {
	t.Helper()
	a, b := net.Pipe()
	return serial.NewFromConn("scheduler-side", baud, a), serial.NewFromConn("peer-side", baud, b)
}

func TestSchedulerAnswersSlaveRequest(t *testing.T) {
	schedPort, peerPort := fakeBus(t, 19200)

	ranges := config.RegisterMap{Holding: []config.RegisterRange{{AddressStart: 0, Length: 2, InitialValues: []uint16{0xAAAA, 0xBBBB}}}}
	s := store.New(ranges)
	slave := engine.NewSlave(0x03, s)

	sched := New(schedPort)
	sched.SetStations(nil, map[byte]*engine.Slave{0x03: slave})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	req := rtu.EncodeRequest(0x03, rtu.FuncCodeReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x02})
	if err := peerPort.WriteFrame(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := peerPort.ReadFrame(time.Second)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	f, err := rtu.DecodeFrame(resp)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if f.Function != rtu.FuncCodeReadHoldingRegisters || f.Payload[0] != 4 {
		t.Fatalf("unexpected response: function=0x%02X payload=%v", f.Function, f.Payload)
	}

	cancel()
	<-done
}

func TestSchedulerPollsMasterStation(t *testing.T) {
	schedPort, peerPort := fakeBus(t, 19200)

	ranges := config.RegisterMap{Holding: []config.RegisterRange{{AddressStart: 0, Length: 1}}}
	s := store.New(ranges)
	master := engine.NewMaster(0x07, ranges, s, 2*time.Second, 500*time.Millisecond)

	sched := New(schedPort)
	sched.SetStations([]*engine.Master{master}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	req, err := peerPort.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("read poll request: %v", err)
	}
	f, err := rtu.DecodeFrame(req)
	if err != nil {
		t.Fatalf("decode poll request: %v", err)
	}
	if f.UnitID != 0x07 || f.Function != rtu.FuncCodeReadHoldingRegisters {
		t.Fatalf("unexpected poll: unit=%d func=0x%02X", f.UnitID, f.Function)
	}

	resp := rtu.EncodeRequest(0x07, rtu.FuncCodeReadHoldingRegisters, []byte{0x02, 0x12, 0x34})
	if err := peerPort.WriteFrame(resp); err != nil {
		t.Fatalf("write poll response: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		words, err := s.ReadWords(config.Holding, 0, 1)
		if err == nil && words[0] == 0x1234 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("master poll result was never mirrored into the store")
}

func TestSchedulerTieBreaksByAscendingUnitID(t *testing.T) {
	ranges := config.RegisterMap{Holding: []config.RegisterRange{{AddressStart: 0, Length: 1}}}
	s := store.New(ranges)
	now := time.Now()
	// Built as literals so both carry the same (zero) NextPollAt;
	// NewMaster stamps time.Now() and would never produce an exact tie.
	m5 := &engine.Master{UnitID: 5, Store: s, PollInterval: time.Second, Timeout: time.Second}
	m2 := &engine.Master{UnitID: 2, Store: s, PollInterval: time.Second, Timeout: time.Second}
	_ = now

	picked := pickEarliestMaster([]*engine.Master{m5, m2})
	if picked.UnitID != 2 {
		t.Fatalf("picked unit %d, want 2 (ascending tie-break)", picked.UnitID)
	}
}
