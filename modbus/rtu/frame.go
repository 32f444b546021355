// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/aoba-io/aoba/modbus/crc"
)

// Frame is a decoded Modbus RTU application data unit.
type Frame struct {
	UnitID   byte
	Function byte
	Payload  []byte
}

// IsException reports whether Function carries the exception flag.
func (f Frame) IsException() bool {
	return f.Function&ExceptionFlag != 0
}

// ExceptionCode returns the one-byte exception code. Callers must check
// IsException first: on a non-exception frame it returns the first
// payload byte, and on a frame with an empty Payload it panics.
func (f Frame) ExceptionCode() byte {
	return f.Payload[0]
}

// DecodeError is the taxonomy of frame decode failures.
type DecodeError struct {
	Kind string // "short" or "bad_crc"
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case "short":
		return "modbus: frame shorter than minimum ADU size"
	case "bad_crc":
		return "modbus: frame crc mismatch"
	default:
		return "modbus: frame decode error"
	}
}

// ErrShort and ErrBadCRC are the two decode failure kinds named in the
// error taxonomy (FrameShort, FrameCrc).
var (
	ErrShort  = &DecodeError{Kind: "short"}
	ErrBadCRC = &DecodeError{Kind: "bad_crc"}
)

// EncodeRequest builds an ADU: unit id, function code, payload, then a
// little-endian CRC-16 over everything before it. It never allocates
// beyond len(payload)+4.
func EncodeRequest(unitID, function byte, payload []byte) []byte {
	raw := make([]byte, len(payload)+4)
	raw[0] = unitID
	raw[1] = function
	copy(raw[2:], payload)

	var c crc.CRC
	c.Reset().PushBytes(raw[:len(raw)-2])
	sum := c.Value()
	raw[len(raw)-2] = byte(sum)
	raw[len(raw)-1] = byte(sum >> 8)
	return raw
}

// DecodeFrame validates length and CRC and splits the ADU into its
// fields. The returned Payload aliases the input slice; DecodeFrame
// never copies.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) < MinSize {
		return Frame{}, ErrShort
	}

	length := len(raw)
	var c crc.CRC
	c.Reset().PushBytes(raw[:length-2])
	want := c.Value()
	got := uint16(raw[length-2]) | uint16(raw[length-1])<<8
	if want != got {
		return Frame{}, ErrBadCRC
	}

	return Frame{
		UnitID:   raw[0],
		Function: raw[1],
		Payload:  raw[2 : length-2],
	}, nil
}

// EncodeException builds an exception response ADU for the given request
// function code and exception code.
func EncodeException(unitID, function, exceptionCode byte) []byte {
	return EncodeRequest(unitID, function|ExceptionFlag, []byte{exceptionCode})
}
