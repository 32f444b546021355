// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"encoding/json"
	"fmt"
	"os"

	wire "github.com/aoba-io/aoba/config"
)

// OperatorProfile is one named, saved station layout a console can
// push to a worker over IPC. Persisted as a plain `[]{name, config}`
// array at the document root (spec.md §6); this stays stdlib JSON
// rather than viper because viper's model is a single keyed document
// and doesn't fit an array root without an artificial wrapper key, and
// because the worker process never reads this file at all — only the
// console does, translating it into an ipc.StationsUpdate.
type OperatorProfile struct {
	Name   string        `json:"name"`
	Config ModbusProfile `json:"config"`
}

// ModbusProfile is the station set a profile applies to one port.
type ModbusProfile struct {
	Mode     string               `json:"mode"` // "master" or "slave", the profile's predominant role; informational only
	Stations []wire.StationConfig `json:"stations"`
}

// LoadOperatorProfiles reads and parses the console's saved-profile
// file. A missing file is not an error: it means no profiles have
// been saved yet.
func LoadOperatorProfiles(path string) ([]OperatorProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read operator profiles: %w", err)
	}

	var profiles []OperatorProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("config: parse operator profiles: %w", err)
	}
	return profiles, nil
}

// SaveOperatorProfiles writes profiles back to path as a pretty-printed
// JSON array, replacing whatever was there.
func SaveOperatorProfiles(path string, profiles []OperatorProfile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal operator profiles: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write operator profiles: %w", err)
	}
	return nil
}
