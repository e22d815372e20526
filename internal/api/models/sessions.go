package models

import "github.com/smazurov/camhw/internal/registry"

type AcquiredDevice struct {
	Handle      int32  `json:"handle" example:"3" doc:"Driver device handle"`
	DeviceIndex int32  `json:"device_index" doc:"Registry handle of the device"`
	Family      string `json:"family" example:"csiphy" doc:"Hardware family"`
	PID         int    `json:"pid" doc:"Acquiring process"`
	TID         int    `json:"tid" doc:"Acquiring thread"`
	Realtime    bool   `json:"realtime" doc:"Streams with its links"`
}

type LinkInfo struct {
	Handle   int32   `json:"handle" doc:"Driver link handle"`
	Devices  []int32 `json:"devices" doc:"Device handles in the link"`
	SyncMode uint32  `json:"sync_mode" doc:"Synchronisation mode"`
	Master   bool    `json:"master" doc:"Sync master"`
	Active   bool    `json:"active" doc:"Streaming"`
	Paused   bool    `json:"paused" doc:"Deactivated through link control"`
}

type SessionInfo struct {
	Handle     int32            `json:"handle" example:"65537" doc:"Registry session handle"`
	Ref        string           `json:"ref" example:"1#1" doc:"Slot and generation of the handle"`
	KMDHandle  int32            `json:"kmd_handle" doc:"Request manager session handle"`
	State      string           `json:"state" example:"valid" doc:"Lifecycle state"`
	ClientRefs int              `json:"client_refs" doc:"Retain count"`
	Operations int              `json:"operations" doc:"Operations in progress"`
	InFlush    bool             `json:"in_flush" doc:"Flush in progress"`
	Master     int32            `json:"master_link" doc:"Sync master link, 0 when unset"`
	Devices    []AcquiredDevice `json:"devices" doc:"Acquired devices"`
	Links      []LinkInfo       `json:"links" doc:"Links"`
}

// SessionFromInfo converts a registry snapshot.
func SessionFromInfo(info registry.SessionInfo) SessionInfo {
	out := SessionInfo{
		Handle:     int32(info.Handle),
		Ref:        info.Handle.String(),
		KMDHandle:  info.KMDHandle,
		State:      string(info.State),
		ClientRefs: info.ClientRefs,
		Operations: info.Operations,
		InFlush:    info.InFlush,
		Master:     info.Master,
		Devices:    make([]AcquiredDevice, 0, len(info.Acquired)),
		Links:      make([]LinkInfo, 0, len(info.Links)),
	}
	for _, a := range info.Acquired {
		out.Devices = append(out.Devices, AcquiredDevice{
			Handle:      a.Handle,
			DeviceIndex: int32(a.DeviceIndex),
			Family:      a.Type.String(),
			PID:         a.PID,
			TID:         a.TID,
			Realtime:    a.Realtime,
		})
	}
	for _, l := range info.Links {
		out.Links = append(out.Links, LinkInfo{
			Handle:   l.Handle,
			Devices:  l.Devices,
			SyncMode: uint32(l.SyncMode),
			Master:   l.Master,
			Active:   l.Active,
			Paused:   l.Paused,
		})
	}
	return out
}

type SessionListResponse struct {
	Body struct {
		Sessions []SessionInfo `json:"sessions" doc:"Open sessions"`
		Count    int           `json:"count" doc:"Number of sessions"`
	}
}

type SessionResponse struct {
	Body SessionInfo
}
