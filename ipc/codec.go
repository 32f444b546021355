// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aoba-io/aoba/config"
)

// ErrProtocol marks a malformed payload: truncated fields, an unknown
// discriminant byte, or a string/slice whose declared length runs past
// the remaining buffer.
type ErrProtocol struct {
	Reason string
}

func (e *ErrProtocol) Error() string { return fmt.Sprintf("ipc: protocol error: %s", e.Reason) }

// Encode serializes msg (one of StationsUpdate, StatusSnapshot,
// StateLockRequest, StateLockAck) as a discriminant byte followed by
// its fields in declaration order, fixed-width little-endian, strings
// length-prefixed UTF-8.
func Encode(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case StationsUpdate:
		buf.WriteByte(byte(TypeStationsUpdate))
		writeString(&buf, m.Port)
		writeStationConfigs(&buf, m.Stations)
	case StatusSnapshot:
		buf.WriteByte(byte(TypeStatusSnapshot))
		writeUint32(&buf, uint32(len(m.Ports)))
		for _, p := range m.Ports {
			writePortStatus(&buf, p)
		}
	case StateLockRequest:
		buf.WriteByte(byte(TypeStateLockRequest))
		writeUint64(&buf, m.ID)
	case StateLockAck:
		buf.WriteByte(byte(TypeStateLockAck))
		writeUint64(&buf, m.ID)
		writeBool(&buf, m.Granted)
	default:
		return nil, fmt.Errorf("ipc: unsupported message type %T", msg)
	}
	return buf.Bytes(), nil
}

// Decode parses a payload previously produced by Encode into its
// concrete variant.
func Decode(data []byte) (interface{}, error) {
	c := &cursor{buf: data}
	tagByte, err := c.readUint8()
	if err != nil {
		return nil, err
	}

	switch MessageType(tagByte) {
	case TypeStationsUpdate:
		port, err := c.readString()
		if err != nil {
			return nil, err
		}
		stations, err := c.readStationConfigs()
		if err != nil {
			return nil, err
		}
		return StationsUpdate{Port: port, Stations: stations}, nil

	case TypeStatusSnapshot:
		n, err := c.readUint32()
		if err != nil {
			return nil, err
		}
		ports := make([]PortStatus, 0, n)
		for i := uint32(0); i < n; i++ {
			p, err := c.readPortStatus()
			if err != nil {
				return nil, err
			}
			ports = append(ports, p)
		}
		return StatusSnapshot{Ports: ports}, nil

	case TypeStateLockRequest:
		id, err := c.readUint64()
		if err != nil {
			return nil, err
		}
		return StateLockRequest{ID: id}, nil

	case TypeStateLockAck:
		id, err := c.readUint64()
		if err != nil {
			return nil, err
		}
		granted, err := c.readBool()
		if err != nil {
			return nil, err
		}
		return StateLockAck{ID: id, Granted: granted}, nil

	default:
		return nil, &ErrProtocol{Reason: fmt.Sprintf("unknown discriminant 0x%02X", tagByte)}
	}
}

// --- encode helpers ---

func writeUint8(b *bytes.Buffer, v byte) { b.WriteByte(v) }

func writeBool(b *bytes.Buffer, v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

func writeUint16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func writeUint32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func writeUint64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func writeString(b *bytes.Buffer, s string) {
	writeUint32(b, uint32(len(s)))
	b.WriteString(s)
}

func writeRegisterRange(b *bytes.Buffer, r config.RegisterRange) {
	writeUint16(b, r.AddressStart)
	writeUint16(b, r.Length)
	writeUint16(b, uint16(len(r.InitialValues)))
	for _, v := range r.InitialValues {
		writeUint16(b, v)
	}
}

func writeRegisterRanges(b *bytes.Buffer, ranges []config.RegisterRange) {
	writeUint16(b, uint16(len(ranges)))
	for _, r := range ranges {
		writeRegisterRange(b, r)
	}
}

func writeRegisterMap(b *bytes.Buffer, m config.RegisterMap) {
	writeRegisterRanges(b, m.Coils)
	writeRegisterRanges(b, m.DiscreteInputs)
	writeRegisterRanges(b, m.Holding)
	writeRegisterRanges(b, m.Input)
}

func writeStationConfig(b *bytes.Buffer, st config.StationConfig) {
	writeUint8(b, st.ID)
	writeUint8(b, byte(st.Mode))
	writeRegisterMap(b, st.Map)
	writeUint32(b, uint32(st.PollIntervalMillis))
	writeUint32(b, uint32(st.PollTimeoutMillis))
	writeString(b, st.Persistence.Type)
	writeString(b, st.Persistence.Path)
}

func writeStationConfigs(b *bytes.Buffer, stations []config.StationConfig) {
	writeUint32(b, uint32(len(stations)))
	for _, st := range stations {
		writeStationConfig(b, st)
	}
}

func writePortStatus(b *bytes.Buffer, p PortStatus) {
	writeString(b, p.Name)
	writeUint8(b, byte(p.State))
	writeString(b, p.LastOpenError)
	writeUint32(b, uint32(len(p.Stations)))
	for _, s := range p.Stations {
		writeStationStatus(b, s)
	}
}

func writeStationStatus(b *bytes.Buffer, s StationStatus) {
	writeUint8(b, s.ID)
	writeUint8(b, byte(s.Mode))
	writeRegisterMap(b, s.LastValues)
	writeString(b, s.LastError)
	writeBool(b, s.HasException)
	writeUint8(b, s.LastExceptionCode)
	writeUint32(b, s.ConsecutiveFailures)
}

// --- decode cursor ---

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) need(n int) error {
	if len(c.buf)-c.pos < n {
		return &ErrProtocol{Reason: "truncated payload"}
	}
	return nil
}

func (c *cursor) readUint8() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) readBool() (bool, error) {
	v, err := c.readUint8()
	return v != 0, err
}

func (c *cursor) readUint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) readUint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) readUint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) readString() (string, error) {
	n, err := c.readUint32()
	if err != nil {
		return "", err
	}
	if err := c.need(int(n)); err != nil {
		return "", err
	}
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, nil
}

func (c *cursor) readRegisterRange() (config.RegisterRange, error) {
	start, err := c.readUint16()
	if err != nil {
		return config.RegisterRange{}, err
	}
	length, err := c.readUint16()
	if err != nil {
		return config.RegisterRange{}, err
	}
	n, err := c.readUint16()
	if err != nil {
		return config.RegisterRange{}, err
	}
	values := make([]uint16, n)
	for i := range values {
		v, err := c.readUint16()
		if err != nil {
			return config.RegisterRange{}, err
		}
		values[i] = v
	}
	return config.RegisterRange{AddressStart: start, Length: length, InitialValues: values}, nil
}

func (c *cursor) readRegisterRanges() ([]config.RegisterRange, error) {
	n, err := c.readUint16()
	if err != nil {
		return nil, err
	}
	out := make([]config.RegisterRange, n)
	for i := range out {
		r, err := c.readRegisterRange()
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (c *cursor) readRegisterMap() (config.RegisterMap, error) {
	coils, err := c.readRegisterRanges()
	if err != nil {
		return config.RegisterMap{}, err
	}
	discrete, err := c.readRegisterRanges()
	if err != nil {
		return config.RegisterMap{}, err
	}
	holding, err := c.readRegisterRanges()
	if err != nil {
		return config.RegisterMap{}, err
	}
	input, err := c.readRegisterRanges()
	if err != nil {
		return config.RegisterMap{}, err
	}
	return config.RegisterMap{Coils: coils, DiscreteInputs: discrete, Holding: holding, Input: input}, nil
}

func (c *cursor) readStationConfig() (config.StationConfig, error) {
	id, err := c.readUint8()
	if err != nil {
		return config.StationConfig{}, err
	}
	mode, err := c.readUint8()
	if err != nil {
		return config.StationConfig{}, err
	}
	m, err := c.readRegisterMap()
	if err != nil {
		return config.StationConfig{}, err
	}
	pollInterval, err := c.readUint32()
	if err != nil {
		return config.StationConfig{}, err
	}
	pollTimeout, err := c.readUint32()
	if err != nil {
		return config.StationConfig{}, err
	}
	persistType, err := c.readString()
	if err != nil {
		return config.StationConfig{}, err
	}
	persistPath, err := c.readString()
	if err != nil {
		return config.StationConfig{}, err
	}
	return config.StationConfig{
		ID:                  id,
		Mode:                config.Mode(mode),
		Map:                 m,
		PollIntervalMillis:  int(pollInterval),
		PollTimeoutMillis:   int(pollTimeout),
		Persistence:         config.PersistenceConfig{Type: persistType, Path: persistPath},
	}, nil
}

func (c *cursor) readStationConfigs() ([]config.StationConfig, error) {
	n, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	out := make([]config.StationConfig, 0, n)
	for i := uint32(0); i < n; i++ {
		st, err := c.readStationConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (c *cursor) readPortStatus() (PortStatus, error) {
	name, err := c.readString()
	if err != nil {
		return PortStatus{}, err
	}
	state, err := c.readUint8()
	if err != nil {
		return PortStatus{}, err
	}
	lastErr, err := c.readString()
	if err != nil {
		return PortStatus{}, err
	}
	n, err := c.readUint32()
	if err != nil {
		return PortStatus{}, err
	}
	stations := make([]StationStatus, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := c.readStationStatus()
		if err != nil {
			return PortStatus{}, err
		}
		stations = append(stations, s)
	}
	return PortStatus{Name: name, State: PortState(state), LastOpenError: lastErr, Stations: stations}, nil
}

func (c *cursor) readStationStatus() (StationStatus, error) {
	id, err := c.readUint8()
	if err != nil {
		return StationStatus{}, err
	}
	mode, err := c.readUint8()
	if err != nil {
		return StationStatus{}, err
	}
	m, err := c.readRegisterMap()
	if err != nil {
		return StationStatus{}, err
	}
	lastErr, err := c.readString()
	if err != nil {
		return StationStatus{}, err
	}
	hasEx, err := c.readBool()
	if err != nil {
		return StationStatus{}, err
	}
	code, err := c.readUint8()
	if err != nil {
		return StationStatus{}, err
	}
	failures, err := c.readUint32()
	if err != nil {
		return StationStatus{}, err
	}
	return StationStatus{
		ID: id, Mode: config.Mode(mode), LastValues: m, LastError: lastErr,
		HasException: hasEx, LastExceptionCode: code, ConsecutiveFailures: failures,
	}, nil
}
