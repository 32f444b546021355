// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package worker

import "github.com/aoba-io/aoba/ipc"

// ToIPC converts a published PortStatus into its wire shape, the thin
// adapter ipc/message.go's doc comment reserves this package for. ipc
// has no dependency on worker/scheduler/engine; worker depends on ipc
// instead, so the conversion lives here.
func (p PortStatus) ToIPC() ipc.PortStatus {
	out := ipc.PortStatus{
		Name:          p.Name,
		State:         ipc.PortState(p.State),
		LastOpenError: p.LastOpenError,
		Stations:      make([]ipc.StationStatus, 0, len(p.Stations)),
	}
	for _, st := range p.Stations {
		out.Stations = append(out.Stations, ipc.StationStatus{
			ID:                  st.ID,
			Mode:                st.Mode,
			LastValues:          st.LastValues,
			LastError:           st.LastError,
			HasException:        st.HasException,
			LastExceptionCode:   st.LastExceptionCode,
			ConsecutiveFailures: uint32(st.ConsecutiveFailures),
		})
	}
	return out
}
