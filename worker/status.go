// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package worker

import (
	"encoding/json"

	"github.com/aoba-io/aoba/config"
)

// PortState is the observable health of a worker's serial port.
type PortState int

const (
	// PortOK means the port is open and the scheduler loop is running.
	PortOK PortState = iota
	// PortOccupiedByOther means open() failed because another process
	// holds the port's exclusive lock.
	PortOccupiedByOther
	// PortError means open() failed for any other reason (not found,
	// permission, or a generic I/O failure); the worker retries on a
	// bounded interval.
	PortError
)

func (s PortState) String() string {
	switch s {
	case PortOK:
		return "ok"
	case PortOccupiedByOther:
		return "occupied_by_other"
	case PortError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders PortState as its lowercase string form.
func (s PortState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// StationStatus is one station's point-in-time observable state,
// published by Worker.publish and read by Status/StatusSnapshot.
type StationStatus struct {
	ID                  byte                `json:"id"`
	Mode                config.Mode         `json:"mode"`
	LastValues          config.RegisterMap  `json:"last_values"`
	LastError           string              `json:"last_error,omitempty"`
	HasException        bool                `json:"has_exception,omitempty"`
	LastExceptionCode   byte                `json:"last_exception_code,omitempty"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
}

// PortStatus is one port's consistent point-in-time view of every
// station multiplexed over it.
type PortStatus struct {
	Name          string          `json:"name"`
	State         PortState       `json:"state"`
	LastOpenError string          `json:"last_open_error,omitempty"`
	Stations      []StationStatus `json:"stations"`
}
