// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import "unsafe"

// Byte layout shared by the file and mmap persistence backends, adapted
// from the teacher's persistence/layout.go: four tables back to back in
// one flat image.
const (
	sizeCoils    = MaxAddress + 1
	sizeDiscrete = MaxAddress + 1
	sizeHolding  = (MaxAddress + 1) * 2
	sizeInput    = (MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapBytesToTables slices a totalSize-length byte image into the four
// typed tables a RegisterStore needs, aliasing rather than copying.
// Relies on host endianness for the uint16 views; RegisterStore always
// does its own big-endian conversion on the wire, so host-native
// storage here is an implementation detail, not a protocol concern.
func mapBytesToTables(data []byte) (coils, discreteInputs []byte, holding, input []uint16) {
	coils = data[offsetCoils : offsetCoils+sizeCoils]
	discreteInputs = data[offsetDiscrete : offsetDiscrete+sizeDiscrete]

	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	holding = unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)

	inputBytes := data[offsetInput : offsetInput+sizeInput]
	input = unsafe.Slice((*uint16)(unsafe.Pointer(&inputBytes[0])), sizeInput/2)
	return
}
