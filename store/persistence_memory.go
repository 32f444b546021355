// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import "github.com/aoba-io/aoba/config"

// MemoryPersistence is a no-op backend: every table starts zeroed and
// nothing survives process exit. Adapted from the teacher's
// persistence.MemoryStorage.
type MemoryPersistence struct{}

func NewMemoryPersistence() *MemoryPersistence { return &MemoryPersistence{} }

func (m *MemoryPersistence) Load() (coils, discreteInputs []byte, holding, input []uint16, err error) {
	return make([]byte, MaxAddress+1), make([]byte, MaxAddress+1), make([]uint16, MaxAddress+1), make([]uint16, MaxAddress+1), nil
}

func (m *MemoryPersistence) Save([]byte, []byte, []uint16, []uint16) error { return nil }

func (m *MemoryPersistence) OnWrite(config.Kind, uint16, uint16) {}

func (m *MemoryPersistence) Close() error { return nil }
