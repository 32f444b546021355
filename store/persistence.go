// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import "github.com/aoba-io/aoba/config"

// Persistence is the optional backing store for a station's register
// tables, so their contents can survive a worker restart. It is
// adapted from the teacher's local-slave persistence.Storage, widened
// from one flat DataModel to the four raw tables a RegisterStore
// exposes via Tables().
type Persistence interface {
	// Load returns the four backing tables, creating them (zeroed) if
	// no prior state exists.
	Load() (coils, discreteInputs []byte, holding, input []uint16, err error)

	// Save flushes the current tables to the backend.
	Save(coils, discreteInputs []byte, holding, input []uint16) error

	// OnWrite is called after every protocol or control-plane write, so
	// a backend that wants real-time durability can sync immediately.
	OnWrite(kind config.Kind, address, quantity uint16)

	// Close releases any resources (file handles, connections).
	Close() error
}

// NewPersistence builds the Persistence backend named by cfg.Type. An
// unrecognized or empty Type yields MemoryPersistence.
func NewPersistence(cfg config.PersistenceConfig) Persistence {
	switch cfg.Type {
	case "file":
		return NewFilePersistence(cfg.Path)
	case "mmap":
		return NewMmapPersistence(cfg.Path)
	case "sql":
		return NewSQLPersistence("sqlite3", cfg.Path)
	default:
		return NewMemoryPersistence()
	}
}

// NewWithPersistence loads ranges/tables from p and returns a
// RegisterStore backed directly by the loaded tables, so every write
// the station makes is visible to the persistence backend's raw
// slices without a copy step. The store retains p and calls
// p.OnWrite after every WriteBits/WriteWords, and releases p on Close.
func NewWithPersistence(ranges config.RegisterMap, p Persistence) (*RegisterStore, error) {
	coils, discreteInputs, holding, input, err := p.Load()
	if err != nil {
		return nil, err
	}
	return NewBackedBy(ranges, coils, discreteInputs, holding, input, p), nil
}
