// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aoba-io/aoba/config"
)

// FilePersistence stores the full register image in a plain file,
// rewriting it on every OnWrite. Adapted from the teacher's
// persistence.FileStorage.
type FilePersistence struct {
	path string
	file *os.File
	data []byte
}

func NewFilePersistence(path string) *FilePersistence {
	return &FilePersistence{path: path}
}

func (f *FilePersistence) Load() (coils, discreteInputs []byte, holding, input []uint16, err error) {
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: open persistence file: %w", err)
	}
	f.file = file

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, nil, nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := file.Truncate(int64(totalSize)); err != nil {
			file.Close()
			return nil, nil, nil, nil, fmt.Errorf("store: resize persistence file: %w", err)
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		file.Close()
		return nil, nil, nil, nil, fmt.Errorf("store: read persistence file: %w", err)
	}
	f.data = data

	coils, discreteInputs, holding, input = mapBytesToTables(data)
	return coils, discreteInputs, holding, input, nil
}

func (f *FilePersistence) Save([]byte, []byte, []uint16, []uint16) error {
	return f.sync()
}

func (f *FilePersistence) OnWrite(kind config.Kind, address, quantity uint16) {
	if err := f.sync(); err != nil {
		slog.Error("store: failed to sync persistence file", "err", err)
	}
}

func (f *FilePersistence) sync() error {
	if f.data == nil || f.file == nil {
		return nil
	}
	if _, err := f.file.WriteAt(f.data, 0); err != nil {
		return fmt.Errorf("store: write persistence file: %w", err)
	}
	return f.file.Sync()
}

func (f *FilePersistence) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}
