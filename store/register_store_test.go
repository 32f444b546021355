// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"bytes"
	"testing"

	"github.com/aoba-io/aoba/config"
)

func holdingMap(start, length uint16, initial []uint16) config.RegisterMap {
	return config.RegisterMap{
		Holding: []config.RegisterRange{{AddressStart: start, Length: length, InitialValues: initial}},
	}
}

func TestSeedAndSnapshot(t *testing.T) {
	s := New(holdingMap(0, 5, []uint16{10, 20, 30, 40, 50}))

	snap := s.Snapshot()
	if len(snap.Holding) != 1 {
		t.Fatalf("Snapshot().Holding = %v, want 1 range", snap.Holding)
	}
	got := snap.Holding[0].InitialValues
	want := []uint16{10, 20, 30, 40, 50}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot values = %v, want %v", got, want)
		}
	}
}

func TestReadWriteRoundtrip(t *testing.T) {
	s := New(holdingMap(0, 5, nil))

	if err := s.WriteWords(config.Holding, 0, []uint16{1, 2, 3}, FromControlPlane); err != nil {
		t.Fatalf("WriteWords() error = %v", err)
	}
	got, err := s.ReadWords(config.Holding, 0, 3)
	if err != nil {
		t.Fatalf("ReadWords() error = %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("ReadWords() = %v, want [1 2 3]", got)
	}
}

func TestRangeClosureIllegalAddress(t *testing.T) {
	s := New(holdingMap(0, 10, nil))

	if _, err := s.ReadWords(config.Holding, 100, 2); err != ErrIllegalAddress {
		t.Errorf("ReadWords() error = %v, want ErrIllegalAddress", err)
	}
	// partially-covered range is also illegal
	if _, err := s.ReadWords(config.Holding, 8, 5); err != ErrIllegalAddress {
		t.Errorf("ReadWords() partial overlap error = %v, want ErrIllegalAddress", err)
	}
}

func TestDiscreteInputsReadOnlyToProtocol(t *testing.T) {
	s := New(config.RegisterMap{DiscreteInputs: []config.RegisterRange{{AddressStart: 0, Length: 4}}})

	if err := s.WriteBits(config.DiscreteInputs, 0, []byte{1, 0, 1, 0}, FromProtocol); err != ErrReadOnly {
		t.Errorf("WriteBits() error = %v, want ErrReadOnly", err)
	}
	if err := s.WriteBits(config.DiscreteInputs, 0, []byte{1, 0, 1, 0}, FromControlPlane); err != nil {
		t.Errorf("WriteBits() from control plane error = %v, want nil", err)
	}
}

func TestInputRegistersReadOnlyToProtocol(t *testing.T) {
	s := New(config.RegisterMap{Input: []config.RegisterRange{{AddressStart: 0, Length: 4}}})

	if err := s.WriteWords(config.Input, 0, []uint16{1, 2}, FromProtocol); err != ErrReadOnly {
		t.Errorf("WriteWords() error = %v, want ErrReadOnly", err)
	}
	if err := s.WriteWords(config.Input, 0, []uint16{1, 2}, FromControlPlane); err != nil {
		t.Errorf("WriteWords() from control plane error = %v, want nil", err)
	}
}

func TestStationIsolation(t *testing.T) {
	a := New(holdingMap(0, 5, []uint16{1, 1, 1, 1, 1}))
	b := New(holdingMap(0, 5, []uint16{2, 2, 2, 2, 2}))

	if err := a.WriteWords(config.Holding, 0, []uint16{9, 9, 9}, FromControlPlane); err != nil {
		t.Fatalf("WriteWords() error = %v", err)
	}

	gotB, err := b.ReadWords(config.Holding, 0, 5)
	if err != nil {
		t.Fatalf("ReadWords() error = %v", err)
	}
	for _, v := range gotB {
		if v != 2 {
			t.Fatalf("station B contaminated by station A's write: %v", gotB)
		}
	}
}

func TestReadBitsPacked(t *testing.T) {
	s := New(config.RegisterMap{Coils: []config.RegisterRange{{AddressStart: 0, Length: 4, InitialValues: []uint16{1, 0, 1, 0}}}})

	packed, err := s.ReadBitsPacked(config.Coils, 0, 4)
	if err != nil {
		t.Fatalf("ReadBitsPacked() error = %v", err)
	}
	if !bytes.Equal(packed, []byte{0x05}) { // bits 1,0,1,0 -> 0b0101
		t.Errorf("ReadBitsPacked() = %v, want [0x05]", packed)
	}
}
