// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store implements the per-station register store: four typed
// tables (coils, discrete inputs, holding, input registers), each
// backed by a flat array spanning the full 16-bit address space, the
// way the teacher's local-slave data model does it. A station's
// declared RegisterRanges are boundary predicates over that flat
// space, not separate allocations.
package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/aoba-io/aoba/config"
)

// MaxAddress is the highest legal Modbus register address.
const MaxAddress = 65535

// ErrIllegalAddress is returned when a request falls outside every
// declared range of the relevant table.
var ErrIllegalAddress = fmt.Errorf("store: illegal address")

// ErrReadOnly is returned when a protocol peer (as opposed to the
// control plane) attempts to write discrete_inputs or input registers.
var ErrReadOnly = fmt.Errorf("store: register table is read-only to protocol peers")

// Origin distinguishes a protocol-originated write (subject to
// ErrReadOnly on discrete_inputs/input) from a control-plane injection
// (always permitted).
type Origin int

const (
	FromProtocol Origin = iota
	FromControlPlane
)

// RegisterStore is one station's register state: four fixed-size
// tables, a single mutual-exclusion gate, and the declared ranges used
// to bound reads/writes and to produce snapshots.
type RegisterStore struct {
	mu sync.RWMutex

	coils          []byte
	discreteInputs []byte
	holding        []uint16
	input          []uint16

	ranges config.RegisterMap

	// persist is nil for a purely in-memory store (New); NewWithPersistence
	// sets it so every write is flushed to a backing file/mmap/db and the
	// backend's handle is released on Close.
	persist Persistence
}

// New allocates a RegisterStore sized for the full address space and
// seeds it from the declared ranges' InitialValues.
func New(ranges config.RegisterMap) *RegisterStore {
	s := &RegisterStore{
		coils:          make([]byte, MaxAddress+1),
		discreteInputs: make([]byte, MaxAddress+1),
		holding:        make([]uint16, MaxAddress+1),
		input:          make([]uint16, MaxAddress+1),
		ranges:         ranges,
	}
	s.seed()
	return s
}

// NewBackedBy builds a RegisterStore whose underlying tables are the
// given slices, e.g. ones produced by a persistence backend's Load.
// Seeding from InitialValues is skipped: the backing slices already
// hold whatever the backend restored. persist may be nil, in which
// case writes are not flushed anywhere (Close becomes a no-op).
func NewBackedBy(ranges config.RegisterMap, coils, discreteInputs []byte, holding, input []uint16, persist Persistence) *RegisterStore {
	return &RegisterStore{
		coils:          coils,
		discreteInputs: discreteInputs,
		holding:        holding,
		input:          input,
		ranges:         ranges,
		persist:        persist,
	}
}

func (s *RegisterStore) seed() {
	seedBits(s.coils, s.ranges.Coils)
	seedBits(s.discreteInputs, s.ranges.DiscreteInputs)
	seedWords(s.holding, s.ranges.Holding)
	seedWords(s.input, s.ranges.Input)
}

func seedBits(table []byte, ranges []config.RegisterRange) {
	for _, r := range ranges {
		for i, v := range r.InitialValues {
			if v != 0 {
				table[int(r.AddressStart)+i] = 1
			}
		}
	}
}

func seedWords(table []uint16, ranges []config.RegisterRange) {
	for _, r := range ranges {
		for i, v := range r.InitialValues {
			table[int(r.AddressStart)+i] = v
		}
	}
}

// covers reports whether [start, start+count) lies entirely within one
// declared range of kind.
func covers(ranges []config.RegisterRange, start, count uint16) bool {
	if count == 0 {
		return false
	}
	end := uint32(start) + uint32(count)
	for _, r := range ranges {
		if uint32(start) >= uint32(r.AddressStart) && end <= r.End() {
			return true
		}
	}
	return false
}

func (s *RegisterStore) rangesFor(kind config.Kind) []config.RegisterRange {
	return s.ranges.Ranges(kind)
}

// ReadBits reads count bits (coils or discrete_inputs) starting at
// start, returned as one byte per bit (0 or 1).
func (s *RegisterStore) ReadBits(kind config.Kind, start, count uint16) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !covers(s.rangesFor(kind), start, count) {
		return nil, ErrIllegalAddress
	}

	table := s.bitTable(kind)
	out := make([]byte, count)
	copy(out, table[start:int(start)+int(count)])
	return out, nil
}

// WriteBits writes count bits starting at start. origin gates whether
// discrete_inputs may be written at all.
func (s *RegisterStore) WriteBits(kind config.Kind, start uint16, values []byte, origin Origin) error {
	s.mu.Lock()

	if kind == config.DiscreteInputs && origin == FromProtocol {
		s.mu.Unlock()
		return ErrReadOnly
	}
	count := uint16(len(values))
	if !covers(s.rangesFor(kind), start, count) {
		s.mu.Unlock()
		return ErrIllegalAddress
	}

	table := s.bitTable(kind)
	for i, v := range values {
		if v != 0 {
			table[int(start)+i] = 1
		} else {
			table[int(start)+i] = 0
		}
	}
	persist := s.persist
	s.mu.Unlock()

	if persist != nil {
		persist.OnWrite(kind, start, count)
	}
	return nil
}

// ReadWords reads count 16-bit registers (holding or input).
func (s *RegisterStore) ReadWords(kind config.Kind, start, count uint16) ([]uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !covers(s.rangesFor(kind), start, count) {
		return nil, ErrIllegalAddress
	}

	table := s.wordTable(kind)
	out := make([]uint16, count)
	copy(out, table[start:int(start)+int(count)])
	return out, nil
}

// WriteWords writes count 16-bit registers starting at start. origin
// gates whether input registers may be written at all.
func (s *RegisterStore) WriteWords(kind config.Kind, start uint16, values []uint16, origin Origin) error {
	s.mu.Lock()

	if kind == config.Input && origin == FromProtocol {
		s.mu.Unlock()
		return ErrReadOnly
	}
	count := uint16(len(values))
	if !covers(s.rangesFor(kind), start, count) {
		s.mu.Unlock()
		return ErrIllegalAddress
	}

	table := s.wordTable(kind)
	copy(table[start:int(start)+int(count)], values)
	persist := s.persist
	s.mu.Unlock()

	if persist != nil {
		persist.OnWrite(kind, start, count)
	}
	return nil
}

// ReadWordsPacked reads registers and returns them as big-endian byte
// pairs, the wire representation functions 03/04 send.
func (s *RegisterStore) ReadWordsPacked(kind config.Kind, start, count uint16) ([]byte, error) {
	words, err := s.ReadWords(kind, start, count)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(out[i*2:], w)
	}
	return out, nil
}

// ReadBitsPacked reads bits and returns them packed LSB-first, the wire
// representation functions 01/02 send.
func (s *RegisterStore) ReadBitsPacked(kind config.Kind, start, count uint16) ([]byte, error) {
	bits, err := s.ReadBits(kind, start, count)
	if err != nil {
		return nil, err
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

// Snapshot produces a RegisterMap whose ranges carry the store's
// current contents as InitialValues, mirroring declared range shape.
func (s *RegisterStore) Snapshot() config.RegisterMap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return config.RegisterMap{
		Coils:          snapshotBits(s.coils, s.ranges.Coils),
		DiscreteInputs: snapshotBits(s.discreteInputs, s.ranges.DiscreteInputs),
		Holding:        snapshotWords(s.holding, s.ranges.Holding),
		Input:          snapshotWords(s.input, s.ranges.Input),
	}
}

func snapshotBits(table []byte, ranges []config.RegisterRange) []config.RegisterRange {
	out := make([]config.RegisterRange, len(ranges))
	for i, r := range ranges {
		vals := make([]uint16, r.Length)
		for j := range vals {
			vals[j] = uint16(table[int(r.AddressStart)+j])
		}
		out[i] = config.RegisterRange{AddressStart: r.AddressStart, Length: r.Length, InitialValues: vals}
	}
	return out
}

func snapshotWords(table []uint16, ranges []config.RegisterRange) []config.RegisterRange {
	out := make([]config.RegisterRange, len(ranges))
	for i, r := range ranges {
		vals := make([]uint16, r.Length)
		copy(vals, table[int(r.AddressStart):int(r.AddressStart)+int(r.Length)])
		out[i] = config.RegisterRange{AddressStart: r.AddressStart, Length: r.Length, InitialValues: vals}
	}
	return out
}

func (s *RegisterStore) bitTable(kind config.Kind) []byte {
	if kind == config.Coils {
		return s.coils
	}
	return s.discreteInputs
}

func (s *RegisterStore) wordTable(kind config.Kind) []uint16 {
	if kind == config.Holding {
		return s.holding
	}
	return s.input
}

// Tables exposes the four raw backing slices, for persistence backends
// that need to flush/restore them directly.
func (s *RegisterStore) Tables() (coils, discreteInputs []byte, holding, input []uint16) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coils, s.discreteInputs, s.holding, s.input
}

// Close releases the store's persistence backend, if any (file handle,
// mmap, or database connection). A purely in-memory store's Close is a
// no-op. Callers must stop issuing writes before calling Close.
func (s *RegisterStore) Close() error {
	s.mu.RLock()
	persist := s.persist
	s.mu.RUnlock()

	if persist == nil {
		return nil
	}
	if err := persist.Save(s.Tables()); err != nil {
		persist.Close()
		return err
	}
	return persist.Close()
}
