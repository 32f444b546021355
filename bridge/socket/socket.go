// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package socket implements the optional slave-listen data bridge: a
// local stream socket where each connection is half-duplex, one JSON
// line in, one JSON line out, one Modbus transaction per line.
// Grounded on the teacher's transport/tcp.Server accept-loop shape
// (net.Listener, a goroutine per connection, a per-connection read
// loop), with Modbus TCP ADU decoding swapped for bufio.Scanner over
// JSON lines, since spec.md's bridge is JSON-in/JSON-out rather than
// wire Modbus.
package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/store"
)

// Worker is the subset of *worker.Worker this bridge depends on.
type Worker interface {
	Station(id byte) (s *store.RegisterStore, mode config.Mode, ok bool)
}

// Clock returns the current time as a Unix timestamp in seconds. Tests
// substitute a fixed clock; production uses time.Now().Unix.
type Clock func() int64

// request is one line a client sends. Values present means write;
// absent (nil) means read of Length registers/bits.
type request struct {
	StationID       byte     `json:"station_id"`
	RegisterMode    string   `json:"register_mode"`
	RegisterAddress uint16   `json:"register_address"`
	Length          uint16   `json:"length,omitempty"`
	Values          []uint16 `json:"values,omitempty"`
}

type response struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Data    *responseData `json:"data,omitempty"`
}

type responseData struct {
	StationID       byte     `json:"station_id"`
	RegisterAddress uint16   `json:"register_address"`
	RegisterMode    string   `json:"register_mode"`
	Values          []uint16 `json:"values"`
	Timestamp       int64    `json:"timestamp"`
}

// Bridge serves the line-JSON socket for one worker.
type Bridge struct {
	w        Worker
	listener net.Listener
	now      Clock
}

// New builds a Bridge for w. Pass nil for now to use the wall clock.
func New(w Worker, now Clock) *Bridge {
	if now == nil {
		now = defaultClock
	}
	return &Bridge{w: w, now: now}
}

// Listen binds addr (a Unix or TCP address, caller's choice of
// network) and serves until Close is called.
func (b *Bridge) Listen(network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("bridge/socket: listen %s: %w", addr, err)
	}
	b.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go b.handle(conn)
	}
}

// Close stops accepting new connections.
func (b *Bridge) Close() error {
	if b.listener != nil {
		return b.listener.Close()
	}
	return nil
}

func (b *Bridge) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	line := scanner.Bytes()

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		writeLine(conn, response{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	resp := b.transact(req)
	writeLine(conn, resp)
}

func (b *Bridge) transact(req request) response {
	kind, ok := parseKind(req.RegisterMode)
	if !ok {
		return response{Success: false, Error: fmt.Sprintf("unknown register_mode %q", req.RegisterMode)}
	}

	s, _, ok := b.w.Station(req.StationID)
	if !ok {
		return response{Success: false, Error: fmt.Sprintf("no such station %d", req.StationID)}
	}

	var values []uint16
	var err error
	switch {
	case len(req.Values) > 0:
		err = writeRegisters(s, kind, req.RegisterAddress, req.Values)
		values = req.Values
	default:
		values, err = readRegisters(s, kind, req.RegisterAddress, req.Length)
	}
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}

	return response{
		Success: true,
		Data: &responseData{
			StationID:       req.StationID,
			RegisterAddress: req.RegisterAddress,
			RegisterMode:    req.RegisterMode,
			Values:          values,
			Timestamp:       b.now(),
		},
	}
}

func parseKind(s string) (config.Kind, bool) {
	switch s {
	case "coils":
		return config.Coils, true
	case "discrete_inputs":
		return config.DiscreteInputs, true
	case "holding":
		return config.Holding, true
	case "input":
		return config.Input, true
	default:
		return 0, false
	}
}

func readRegisters(s *store.RegisterStore, kind config.Kind, addr, length uint16) ([]uint16, error) {
	if length == 0 {
		length = 1
	}
	switch kind {
	case config.Coils, config.DiscreteInputs:
		bits, err := s.ReadBits(kind, addr, length)
		if err != nil {
			return nil, err
		}
		out := make([]uint16, len(bits))
		for i, v := range bits {
			out[i] = uint16(v)
		}
		return out, nil
	default:
		return s.ReadWords(kind, addr, length)
	}
}

func writeRegisters(s *store.RegisterStore, kind config.Kind, addr uint16, values []uint16) error {
	switch kind {
	case config.Coils, config.DiscreteInputs:
		bits := make([]byte, len(values))
		for i, v := range values {
			if v != 0 {
				bits[i] = 1
			}
		}
		return s.WriteBits(kind, addr, bits, store.FromControlPlane)
	default:
		return s.WriteWords(kind, addr, values, store.FromControlPlane)
	}
}

func writeLine(conn net.Conn, resp response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		slog.Error("bridge/socket: marshal response", "err", err)
		return
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		slog.Error("bridge/socket: write response", "err", err)
	}
}

func defaultClock() int64 {
	return time.Now().Unix()
}
