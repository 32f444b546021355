// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package engine

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/modbus/rtu"
	"github.com/aoba-io/aoba/store"
)

// maxBackoffFactor caps the exponent in the backoff formula at 2^5.
const maxBackoffFactor = 5

// maxBackoff is the ceiling on any single master's poll backoff.
const maxBackoff = 30 * time.Second

type rangeEntry struct {
	kind config.Kind
	rng  config.RegisterRange
}

// PollRequest is one outgoing read request built by Master.BuildPoll,
// along with enough context for the scheduler to hand the matching
// response back to ApplySuccess.
type PollRequest struct {
	Bytes    []byte
	Kind     config.Kind
	Address  uint16
	Count    uint16
	Function byte
}

// Master drives one master-role station's poll cycle: Idle (owned by
// the scheduler's deadline check) -> Polling (BuildPoll) -> Awaiting
// (the scheduler's read_frame call) -> ApplySuccess/ApplyException/
// ApplyTimeout, which re-arm NextPollAt. Adapted from the teacher's
// transport/rtu.Client, which encoded/decoded one RTU request per call;
// Master additionally owns the rotation across a station's declared
// ranges and the backoff state the teacher's gateway never needed
// because it had no polling role of its own.
type Master struct {
	UnitID byte
	Store  *store.RegisterStore

	PollInterval time.Duration
	Timeout      time.Duration

	mu            sync.Mutex
	entries       []rangeEntry
	entryIdx      int
	offset        uint16
	nextPollAt    time.Time
	failures      int
	hasException  bool
	lastException byte
}

// NewMaster builds a Master for unitID, polling the ranges declared in
// m and mirroring results into s.
func NewMaster(unitID byte, m config.RegisterMap, s *store.RegisterStore, pollInterval, timeout time.Duration) *Master {
	entries := flattenEntries(m)
	return &Master{
		UnitID:       unitID,
		Store:        s,
		PollInterval: pollInterval,
		Timeout:      timeout,
		entries:      entries,
		nextPollAt:   time.Now(),
	}
}

func flattenEntries(m config.RegisterMap) []rangeEntry {
	var entries []rangeEntry
	for _, r := range m.Coils {
		entries = append(entries, rangeEntry{kind: config.Coils, rng: r})
	}
	for _, r := range m.DiscreteInputs {
		entries = append(entries, rangeEntry{kind: config.DiscreteInputs, rng: r})
	}
	for _, r := range m.Holding {
		entries = append(entries, rangeEntry{kind: config.Holding, rng: r})
	}
	for _, r := range m.Input {
		entries = append(entries, rangeEntry{kind: config.Input, rng: r})
	}
	return entries
}

func functionFor(kind config.Kind) byte {
	switch kind {
	case config.Coils:
		return rtu.FuncCodeReadCoils
	case config.DiscreteInputs:
		return rtu.FuncCodeReadDiscreteInputs
	case config.Holding:
		return rtu.FuncCodeReadHoldingRegisters
	default:
		return rtu.FuncCodeReadInputRegisters
	}
}

func maxCountFor(kind config.Kind) uint16 {
	switch kind {
	case config.Coils, config.DiscreteInputs:
		return rtu.MaxReadCoils
	default:
		return rtu.MaxReadRegisters
	}
}

// NextPollAt reports when this master next wants a slot; the scheduler
// uses it to compute D_m and to break ties by station id.
func (m *Master) NextPollAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextPollAt
}

// BuildPoll encodes the next read request in rotation and advances the
// rotation, independent of whether this poll ultimately succeeds.
func (m *Master) BuildPoll() PollRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[m.entryIdx]
	maxCount := uint32(maxCountFor(entry.kind))
	remaining := uint32(entry.rng.Length) - uint32(m.offset)
	count := remaining
	if count > maxCount {
		count = maxCount
	}
	address := uint32(entry.rng.AddressStart) + uint32(m.offset)
	function := functionFor(entry.kind)

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], uint16(address))
	binary.BigEndian.PutUint16(payload[2:4], uint16(count))

	m.offset += uint16(count)
	if uint32(m.offset) >= uint32(entry.rng.Length) {
		m.offset = 0
		m.entryIdx = (m.entryIdx + 1) % len(m.entries)
	}

	return PollRequest{
		Bytes:    rtu.EncodeRequest(m.UnitID, function, payload),
		Kind:     entry.kind,
		Address:  uint16(address),
		Count:    uint16(count),
		Function: function,
	}
}

// ApplySuccess parses a matching, non-exception response and mirrors
// its values into Store, then re-arms the next poll after
// PollInterval and clears backoff state.
func (m *Master) ApplySuccess(req PollRequest, payload []byte) error {
	if len(payload) < 1 {
		m.ApplyTimeout()
		return nil
	}
	byteCount := int(payload[0])
	if len(payload)-1 < byteCount {
		m.ApplyTimeout()
		return nil
	}
	body := payload[1 : 1+byteCount]

	switch req.Kind {
	case config.Coils, config.DiscreteInputs:
		values := make([]byte, req.Count)
		for i := 0; i < int(req.Count); i++ {
			byteIdx := i / 8
			bitIdx := uint(i % 8)
			if byteIdx < len(body) && body[byteIdx]&(1<<bitIdx) != 0 {
				values[i] = 1
			}
		}
		if err := m.Store.WriteBits(req.Kind, req.Address, values, store.FromControlPlane); err != nil {
			return err
		}
	default:
		values := make([]uint16, req.Count)
		for i := range values {
			if i*2+2 > len(body) {
				break
			}
			values[i] = binary.BigEndian.Uint16(body[i*2:])
		}
		if err := m.Store.WriteWords(req.Kind, req.Address, values, store.FromControlPlane); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.hasException = false
	m.nextPollAt = time.Now().Add(m.PollInterval)
	return nil
}

// ApplyException records the remote's exception code and applies
// backoff without touching Store.
func (m *Master) ApplyException(code byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasException = true
	m.lastException = code
	m.failures++
	m.backoffLocked()
}

// ApplyTimeout applies backoff after a read timeout, a CRC mismatch,
// or a response that matched neither unit id nor function code (the
// spec treats all three identically: discard and back off).
func (m *Master) ApplyTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.backoffLocked()
}

// backoffLocked applies min(I * 2^min(k,5), 30s). Caller holds mu.
func (m *Master) backoffLocked() {
	k := m.failures
	if k > maxBackoffFactor {
		k = maxBackoffFactor
	}
	backoff := m.PollInterval << uint(k)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	m.nextPollAt = time.Now().Add(backoff)
}

// LastException reports the most recently recorded exception code and
// whether one is currently outstanding (cleared by the next success).
func (m *Master) LastException() (code byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastException, m.hasException
}

// ConsecutiveFailures reports the current backoff counter.
func (m *Master) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}
