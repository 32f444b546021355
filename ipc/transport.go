// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// MaxMessageSize rejects any frame whose declared length exceeds this,
// per spec.md's 16 MiB ceiling.
const MaxMessageSize = 16 * 1024 * 1024

// socketPrefix names every IPC address this package creates or dials.
const socketPrefix = "aoba-ipc-"

// Address derives the deterministic per-port IPC socket path: every
// character outside [A-Za-z0-9_] in portName becomes '_'.
func Address(runtimeDir, portName string) string {
	var b strings.Builder
	for _, r := range portName {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return filepath.Join(runtimeDir, socketPrefix+b.String())
}

// Listen opens the Unix domain socket at addr, removing any stale
// socket file left behind by a prior worker process first.
func Listen(addr string) (net.Listener, error) {
	if _, err := os.Stat(addr); err == nil {
		_ = os.Remove(addr)
	}
	l, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", addr, err)
	}
	return l, nil
}

// Dial connects to a worker's IPC socket.
func Dial(addr string) (net.Conn, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", addr, err)
	}
	return conn, nil
}

// WriteMessage frames msg as a 4-byte little-endian length prefix
// followed by its encoded payload.
func WriteMessage(w io.Writer, msg interface{}) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxMessageSize {
		return &ErrProtocol{Reason: fmt.Sprintf("payload of %d bytes exceeds %d byte limit", len(payload), MaxMessageSize)}
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("ipc: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame and decodes it.
func ReadMessage(r io.Reader) (interface{}, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("ipc: read length prefix: %w", err)
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		return nil, &ErrProtocol{Reason: fmt.Sprintf("declared length %d exceeds %d byte limit", length, MaxMessageSize)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: read payload: %w", err)
	}
	return Decode(payload)
}
