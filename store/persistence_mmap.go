// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aoba-io/aoba/config"
	mmap "github.com/edsrzf/mmap-go"
)

// MmapPersistence memory-maps the register image, so writes go
// straight to the page cache without an explicit write(2) per OnWrite.
// The teacher's go.mod already requires github.com/edsrzf/mmap-go but
// its own mmap.go calls syscall.Mmap directly without importing it;
// this backend is the one place in Aoba that actually exercises it.
type MmapPersistence struct {
	path string
	file *os.File
	data mmap.MMap
}

func NewMmapPersistence(path string) *MmapPersistence {
	return &MmapPersistence{path: path}
}

func (m *MmapPersistence) Load() (coils, discreteInputs []byte, holding, input []uint16, err error) {
	file, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: open mmap file: %w", err)
	}
	m.file = file

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, nil, nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := file.Truncate(int64(totalSize)); err != nil {
			file.Close()
			return nil, nil, nil, nil, fmt.Errorf("store: resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, nil, nil, nil, fmt.Errorf("store: mmap: %w", err)
	}
	m.data = data

	coils, discreteInputs, holding, input = mapBytesToTables(data)
	return coils, discreteInputs, holding, input, nil
}

func (m *MmapPersistence) Save([]byte, []byte, []uint16, []uint16) error {
	return m.sync()
}

func (m *MmapPersistence) OnWrite(kind config.Kind, address, quantity uint16) {
	if err := m.sync(); err != nil {
		slog.Error("store: failed to sync mmap", "err", err)
	}
}

func (m *MmapPersistence) sync() error {
	if m.data == nil {
		return nil
	}
	return m.data.Flush()
}

func (m *MmapPersistence) Close() error {
	var err error
	if m.data != nil {
		err = m.data.Unmap()
		m.data = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
		m.file = nil
	}
	return err
}
