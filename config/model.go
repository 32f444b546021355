// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config defines the station/port configuration model shared on
// the wire between the console and the worker: the types a
// StationsUpdate carries, and the validation that rejects a malformed
// one before it ever reaches a running station set.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is the role a station plays on its port.
type Mode int

const (
	// Master actively polls a remote peer at the same station id.
	Master Mode = iota
	// Slave answers incoming requests addressed to its station id.
	Slave
)

func (m Mode) String() string {
	switch m {
	case Master:
		return "master"
	case Slave:
		return "slave"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Mode as the lowercase string spec.md's HTTP/IPC
// examples use ("master"/"slave") rather than its numeric value.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts "master"/"slave" (case-insensitive).
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "master":
		*m = Master
	case "slave":
		*m = Slave
	default:
		return fmt.Errorf("config: unknown mode %q", s)
	}
	return nil
}

// Kind names one of the four Modbus register tables.
type Kind int

const (
	Coils Kind = iota
	DiscreteInputs
	Holding
	Input
)

func (k Kind) String() string {
	switch k {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete_inputs"
	case Holding:
		return "holding"
	case Input:
		return "input"
	default:
		return "unknown"
	}
}

// RegisterRange declares one contiguous, protocol-visible span of a
// register table. Length governs the span's size; InitialValues may be
// shorter (the remainder defaults to 0) but never longer than Length.
type RegisterRange struct {
	AddressStart  uint16   `json:"address_start"`
	Length        uint16   `json:"length"`
	InitialValues []uint16 `json:"initial_values,omitempty"`
}

// End returns the exclusive end address of the range.
func (r RegisterRange) End() uint32 {
	return uint32(r.AddressStart) + uint32(r.Length)
}

// RegisterMap is the four named, independently-sorted sequences of
// RegisterRange that make up a station's protocol-visible address space.
type RegisterMap struct {
	Coils          []RegisterRange `json:"coils,omitempty"`
	DiscreteInputs []RegisterRange `json:"discrete_inputs,omitempty"`
	Holding        []RegisterRange `json:"holding,omitempty"`
	Input          []RegisterRange `json:"input,omitempty"`
}

// Ranges returns the sequence for the given table kind.
func (m RegisterMap) Ranges(kind Kind) []RegisterRange {
	switch kind {
	case Coils:
		return m.Coils
	case DiscreteInputs:
		return m.DiscreteInputs
	case Holding:
		return m.Holding
	case Input:
		return m.Input
	default:
		return nil
	}
}

// StationConfig is the (id, role, register map) tuple spec.md calls a
// station.
type StationConfig struct {
	ID   byte        `json:"id"`
	Mode Mode        `json:"mode"`
	Map  RegisterMap `json:"map"`

	// PollInterval and PollTimeout apply only to Master stations; zero
	// means "use the engine default" (1000ms for both).
	PollIntervalMillis int `json:"poll_interval_ms,omitempty"`
	PollTimeoutMillis  int `json:"poll_timeout_ms,omitempty"`

	// Persistence optionally names a store.Persistence backend
	// ("", "memory", "file", "mmap", "sql") plus the path/DSN it needs.
	// Empty means the station's register store is purely in-memory and
	// is discarded with the station.
	Persistence PersistenceConfig `json:"persistence,omitempty"`
}

// PersistenceConfig names an optional backing store for a station's
// register contents, so a slave's state can survive a worker restart.
type PersistenceConfig struct {
	Type string `json:"type,omitempty"` // "", "memory", "file", "mmap", "sql"
	Path string `json:"path,omitempty"` // file path, mmap path, or SQL DSN depending on Type
}

// Framing describes the serial line framing. Only 8N1 is exercised by
// the scheduler's timing math; "other" is accepted for forward
// compatibility with the Framing field's wire representation but is
// otherwise treated like 8N1 by the character-time computation.
type Framing int

const (
	Framing8N1 Framing = iota
	FramingOther
)

// PortConfig is a physical or virtual serial line and the set of
// stations multiplexed over it.
type PortConfig struct {
	Name     string
	Baud     uint32
	Framing  Framing
	Stations []StationConfig
}

// Error is the config validation taxonomy (ConfigInvalid's sub-reasons).
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s", e.Reason)
}

// Validate checks every invariant spec.md §3/§8 places on a PortConfig:
// station ids in 1..=247 and unique per port, ranges disjoint and
// sorted within a map field, non-zero length, no address+length
// overflow past 0x10000, and InitialValues never longer than Length.
func (p PortConfig) Validate() error {
	seen := make(map[byte]struct{}, len(p.Stations))
	for _, st := range p.Stations {
		if st.ID < 1 || st.ID > 247 {
			return &Error{Reason: fmt.Sprintf("station id %d out of range 1..=247", st.ID)}
		}
		if _, dup := seen[st.ID]; dup {
			return &Error{Reason: fmt.Sprintf("duplicate station id %d", st.ID)}
		}
		seen[st.ID] = struct{}{}

		if err := validateRanges(st.Map.Coils); err != nil {
			return err
		}
		if err := validateRanges(st.Map.DiscreteInputs); err != nil {
			return err
		}
		if err := validateRanges(st.Map.Holding); err != nil {
			return err
		}
		if err := validateRanges(st.Map.Input); err != nil {
			return err
		}
	}
	return nil
}

func validateRanges(ranges []RegisterRange) error {
	var prevEnd uint32
	for i, r := range ranges {
		if r.Length == 0 {
			return &Error{Reason: "register range length must be at least 1"}
		}
		if r.End() > 0x10000 {
			return &Error{Reason: fmt.Sprintf("register range %d..%d overflows the 16-bit address space", r.AddressStart, r.End())}
		}
		if len(r.InitialValues) > int(r.Length) {
			return &Error{Reason: "initial_values longer than declared length"}
		}
		if i > 0 && uint32(r.AddressStart) < prevEnd {
			return &Error{Reason: "register ranges overlap or are not sorted by address_start"}
		}
		prevEnd = r.End()
	}
	return nil
}
