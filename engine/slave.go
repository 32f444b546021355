// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package engine implements the per-station master and slave state
// machines that drive a RegisterStore over framed RTU requests.
// Adapted from the teacher's internal/local-slave.LocalSlave (function
// dispatch) and transport/rtu.Client (master polling), generalized
// from a fixed gateway role to the station-scheduler model: engines
// are pure request/response logic with no I/O of their own.
package engine

import (
	"encoding/binary"

	"github.com/aoba-io/aoba/config"
	"github.com/aoba-io/aoba/modbus/rtu"
	"github.com/aoba-io/aoba/store"
)

// Slave answers incoming requests addressed to one station out of its
// RegisterStore. It holds no session state between calls.
type Slave struct {
	UnitID byte
	Store  *store.RegisterStore
}

// NewSlave builds a Slave bound to the given unit id and store.
func NewSlave(unitID byte, s *store.RegisterStore) *Slave {
	return &Slave{UnitID: unitID, Store: s}
}

// Handle processes one decoded frame already known to be addressed
// to this station (unit id match and CRC already verified by the
// caller) and returns the response ADU to write back, or nil for a
// broadcast (unit id 0) which never gets a response.
func (s *Slave) Handle(f rtu.Frame) []byte {
	broadcast := f.UnitID == 0

	var resp []byte
	switch f.Function {
	case rtu.FuncCodeReadCoils:
		resp = s.handleReadBits(f, config.Coils)
	case rtu.FuncCodeReadDiscreteInputs:
		resp = s.handleReadBits(f, config.DiscreteInputs)
	case rtu.FuncCodeReadHoldingRegisters:
		resp = s.handleReadWords(f, config.Holding)
	case rtu.FuncCodeReadInputRegisters:
		resp = s.handleReadWords(f, config.Input)
	case rtu.FuncCodeWriteSingleCoil:
		resp = s.handleWriteSingleCoil(f)
	case rtu.FuncCodeWriteSingleRegister:
		resp = s.handleWriteSingleRegister(f)
	case rtu.FuncCodeWriteMultipleCoils:
		resp = s.handleWriteMultipleCoils(f)
	case rtu.FuncCodeWriteMultipleRegister:
		resp = s.handleWriteMultipleRegisters(f)
	default:
		resp = s.exception(f, rtu.ExceptionIllegalFunction)
	}

	if broadcast {
		return nil
	}
	return resp
}

func (s *Slave) exception(f rtu.Frame, code byte) []byte {
	return rtu.EncodeException(f.UnitID, f.Function, code)
}

func (s *Slave) handleReadBits(f rtu.Frame, kind config.Kind) []byte {
	if len(f.Payload) != 4 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	address := binary.BigEndian.Uint16(f.Payload[0:2])
	quantity := binary.BigEndian.Uint16(f.Payload[2:4])

	if quantity < 1 || quantity > rtu.MaxReadCoils {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}

	packed, err := s.Store.ReadBitsPacked(kind, address, quantity)
	if err != nil {
		return s.exception(f, rtu.ExceptionIllegalAddress)
	}

	payload := make([]byte, 1+len(packed))
	payload[0] = byte(len(packed))
	copy(payload[1:], packed)
	return rtu.EncodeRequest(f.UnitID, f.Function, payload)
}

func (s *Slave) handleReadWords(f rtu.Frame, kind config.Kind) []byte {
	if len(f.Payload) != 4 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	address := binary.BigEndian.Uint16(f.Payload[0:2])
	quantity := binary.BigEndian.Uint16(f.Payload[2:4])

	if quantity < 1 || quantity > rtu.MaxReadRegisters {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}

	packed, err := s.Store.ReadWordsPacked(kind, address, quantity)
	if err != nil {
		return s.exception(f, rtu.ExceptionIllegalAddress)
	}

	payload := make([]byte, 1+len(packed))
	payload[0] = byte(len(packed))
	copy(payload[1:], packed)
	return rtu.EncodeRequest(f.UnitID, f.Function, payload)
}

func (s *Slave) handleWriteSingleCoil(f rtu.Frame) []byte {
	if len(f.Payload) != 4 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	address := binary.BigEndian.Uint16(f.Payload[0:2])
	value := binary.BigEndian.Uint16(f.Payload[2:4])

	if value != 0x0000 && value != 0xFF00 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	bit := byte(0)
	if value == 0xFF00 {
		bit = 1
	}

	if err := s.Store.WriteBits(config.Coils, address, []byte{bit}, store.FromProtocol); err != nil {
		return s.exception(f, writeExceptionFor(err))
	}
	return rtu.EncodeRequest(f.UnitID, f.Function, f.Payload)
}

func (s *Slave) handleWriteSingleRegister(f rtu.Frame) []byte {
	if len(f.Payload) != 4 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	address := binary.BigEndian.Uint16(f.Payload[0:2])
	value := binary.BigEndian.Uint16(f.Payload[2:4])

	if err := s.Store.WriteWords(config.Holding, address, []uint16{value}, store.FromProtocol); err != nil {
		return s.exception(f, writeExceptionFor(err))
	}
	return rtu.EncodeRequest(f.UnitID, f.Function, f.Payload)
}

func (s *Slave) handleWriteMultipleCoils(f rtu.Frame) []byte {
	if len(f.Payload) < 6 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	address := binary.BigEndian.Uint16(f.Payload[0:2])
	quantity := binary.BigEndian.Uint16(f.Payload[2:4])
	byteCount := f.Payload[4]

	if quantity < 1 || quantity > rtu.MaxWriteCoils {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	if byte(len(f.Payload)-5) != byteCount {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}

	bits := make([]byte, quantity)
	for i := 0; i < int(quantity); i++ {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		if f.Payload[5+byteIdx]&(1<<bitIdx) != 0 {
			bits[i] = 1
		}
	}

	if err := s.Store.WriteBits(config.Coils, address, bits, store.FromProtocol); err != nil {
		return s.exception(f, writeExceptionFor(err))
	}

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], address)
	binary.BigEndian.PutUint16(payload[2:4], quantity)
	return rtu.EncodeRequest(f.UnitID, f.Function, payload)
}

func (s *Slave) handleWriteMultipleRegisters(f rtu.Frame) []byte {
	if len(f.Payload) < 6 {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	address := binary.BigEndian.Uint16(f.Payload[0:2])
	quantity := binary.BigEndian.Uint16(f.Payload[2:4])
	byteCount := f.Payload[4]

	if quantity < 1 || quantity > rtu.MaxWriteRegisters {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}
	if byte(len(f.Payload)-5) != byteCount || byteCount != byte(quantity*2) {
		return s.exception(f, rtu.ExceptionIllegalValue)
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(f.Payload[5+i*2:])
	}

	if err := s.Store.WriteWords(config.Holding, address, values, store.FromProtocol); err != nil {
		return s.exception(f, writeExceptionFor(err))
	}

	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], address)
	binary.BigEndian.PutUint16(payload[2:4], quantity)
	return rtu.EncodeRequest(f.UnitID, f.Function, payload)
}

// writeExceptionFor maps a RegisterStore error to its wire exception
// code. ErrReadOnly never actually surfaces from the write handlers
// above (05/0F only ever touch Coils, 06/10 only ever touch Holding),
// but the mapping follows the protocol's own rule for a peer attempting
// to write discrete_inputs/input: IllegalFunction, not IllegalAddress.
func writeExceptionFor(err error) byte {
	switch err {
	case store.ErrReadOnly:
		return rtu.ExceptionIllegalFunction
	case store.ErrIllegalAddress:
		return rtu.ExceptionIllegalAddress
	default:
		return rtu.ExceptionServerFailure
	}
}
