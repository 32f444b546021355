// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"path/filepath"
	"testing"

	"github.com/aoba-io/aoba/config"
)

// openBacked builds a store through NewWithPersistence (which runs the
// backend's Load), so the round-trip tests below can drive
// FilePersistence, MmapPersistence and SQLPersistence through the same
// sequence; each test closes its stores itself.
func openBacked(t *testing.T, p Persistence, ranges config.RegisterMap) *RegisterStore {
	t.Helper()
	s, err := NewWithPersistence(ranges, p)
	if err != nil {
		t.Fatalf("NewWithPersistence() error = %v", err)
	}
	return s
}

func TestFilePersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	ranges := holdingMap(0, 5, nil)

	s := openBacked(t, NewFilePersistence(path), ranges)
	if err := s.WriteWords(config.Holding, 0, []uint16{10, 20, 30}, FromControlPlane); err != nil {
		t.Fatalf("WriteWords() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded := openBacked(t, NewFilePersistence(path), ranges)
	defer reloaded.Close()

	got, err := reloaded.ReadWords(config.Holding, 0, 3)
	if err != nil {
		t.Fatalf("ReadWords() after reload error = %v", err)
	}
	want := []uint16{10, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reloaded values = %v, want %v", got, want)
		}
	}
}

func TestMmapPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.mmap")
	ranges := config.RegisterMap{Coils: []config.RegisterRange{{AddressStart: 0, Length: 8}}}

	s := openBacked(t, NewMmapPersistence(path), ranges)
	if err := s.WriteBits(config.Coils, 0, []byte{1, 0, 1, 1, 0, 0, 1, 0}, FromControlPlane); err != nil {
		t.Fatalf("WriteBits() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded := openBacked(t, NewMmapPersistence(path), ranges)
	defer reloaded.Close()

	got, err := reloaded.ReadBits(config.Coils, 0, 8)
	if err != nil {
		t.Fatalf("ReadBits() after reload error = %v", err)
	}
	want := []byte{1, 0, 1, 1, 0, 0, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reloaded bits = %v, want %v", got, want)
		}
	}
}

func TestSQLPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.db")
	ranges := holdingMap(0, 5, nil)

	s := openBacked(t, NewSQLPersistence("sqlite3", path), ranges)
	if err := s.WriteWords(config.Holding, 1, []uint16{7, 8}, FromControlPlane); err != nil {
		t.Fatalf("WriteWords() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded := openBacked(t, NewSQLPersistence("sqlite3", path), ranges)
	defer reloaded.Close()

	got, err := reloaded.ReadWords(config.Holding, 1, 2)
	if err != nil {
		t.Fatalf("ReadWords() after reload error = %v", err)
	}
	if got[0] != 7 || got[1] != 8 {
		t.Fatalf("reloaded values = %v, want [7 8]", got)
	}
}

// TestPlainStoreHasNoPersistenceToClose documents why RegisterStore.persist
// must stay nil for store.New: the zero value is relied on by every
// in-memory-only station, including every other test in this package.
func TestPlainStoreHasNoPersistenceToClose(t *testing.T) {
	s := New(holdingMap(0, 1, nil))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() on a plain store error = %v, want nil", err)
	}
}
