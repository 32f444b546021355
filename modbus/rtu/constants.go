// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU application data unit: function
// codes, exception codes, and frame encode/decode with CRC-16.
package rtu

const (
	// MinSize is the smallest legal ADU: unit id, function code, 2-byte CRC.
	MinSize = 4
	// MaxSize is the largest legal RTU ADU.
	MaxSize = 256

	// ExceptionSize is the length of an exception response ADU.
	ExceptionSize = 5
)

// Function codes this package knows how to frame. Aoba's master and slave
// engines only ever drive these eight; others pass through Decode/Encode
// untouched so callers can still report UnsupportedFunction themselves.
const (
	FuncCodeReadCoils            = 0x01
	FuncCodeReadDiscreteInputs   = 0x02
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	FuncCodeWriteSingleCoil       = 0x05
	FuncCodeWriteSingleRegister   = 0x06
	FuncCodeWriteMultipleCoils    = 0x0F
	FuncCodeWriteMultipleRegister = 0x10
)

// ExceptionFlag marks a function code as an exception response when ORed in.
const ExceptionFlag = 0x80

// Exception codes, named per the Modbus application protocol.
const (
	ExceptionIllegalFunction = 0x01
	ExceptionIllegalAddress  = 0x02
	ExceptionIllegalValue    = 0x03
	ExceptionServerFailure   = 0x04
)

// MaxReadCoils and MaxReadRegisters are the per-request quantity ceilings
// the Modbus application protocol fixes; requests exceeding them are
// illegal values (exception 0x03), not framing errors.
const (
	MaxReadCoils      = 0x7D0 // 2000 bits
	MaxReadRegisters  = 0x7D  // 125 words (function 03/04)
	MaxWriteCoils     = 0x7B0 // 1968 bits
	MaxWriteRegisters = 0x7B  // 123 words
)
