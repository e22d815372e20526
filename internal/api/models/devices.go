package models

import (
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/registry"
)

type DeviceInfo struct {
	Index          int32  `json:"index" example:"65537" doc:"Registry handle"`
	Ref            string `json:"ref" example:"1#1" doc:"Slot and generation of the handle"`
	Path           string `json:"path" example:"/dev/v4l-subdev3" doc:"Device node"`
	Name           string `json:"name" example:"cam-isp0" doc:"Driver entity name"`
	Family         string `json:"family" example:"isp" doc:"Hardware family"`
	State          string `json:"state" example:"valid" doc:"Lifecycle state"`
	Refcount       int    `json:"refcount" doc:"Sessions holding the device"`
	Leases         int    `json:"leases" doc:"Acquired handles across sessions"`
	Order          int    `json:"stream_on_order" doc:"Stream-on position, lower first"`
	StreamOffOrder int    `json:"stream_off_order" doc:"Stream-off position, lower first"`
	Realtime       bool   `json:"realtime" doc:"Whether the device joins link streaming"`
	MMU            [2]int `json:"mmu_handles" doc:"Non-secure and secure MMU handles"`
	CDM            [2]int `json:"cdm_handles" doc:"Non-secure and secure CDM MMU handles"`
	CapsCached     bool   `json:"caps_cached" doc:"Whether the capability blob is cached"`
}

// DeviceFromInfo converts a registry snapshot.
func DeviceFromInfo(info hwdev.Info) DeviceInfo {
	return DeviceInfo{
		Index:          int32(info.Index),
		Ref:            info.Index.String(),
		Path:           info.Path,
		Name:           info.Name,
		Family:         info.Type.String(),
		State:          string(info.State),
		Refcount:       info.Refcount,
		Leases:         info.Leases,
		Order:          info.Order,
		StreamOffOrder: info.StreamOffOrder,
		Realtime:       info.Realtime,
		MMU:            [2]int{int(info.MMU.NonSecure), int(info.MMU.Secure)},
		CDM:            [2]int{int(info.CDM.NonSecure), int(info.CDM.Secure)},
		CapsCached:     info.CapsCached,
	}
}

type DeviceListData struct {
	Devices []DeviceInfo `json:"devices" doc:"Registered devices"`
	Count   int          `json:"count" example:"7" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

type DeviceResponse struct {
	Body DeviceInfo
}

type SensorSlot struct {
	ID   int    `json:"id" example:"0" doc:"Slot identifier for probing"`
	Path string `json:"path" example:"/dev/v4l-subdev9" doc:"Device node"`
	Name string `json:"name" example:"cam-sensor-driver" doc:"Driver entity name"`
}

type SensorSlotListResponse struct {
	Body struct {
		Slots []SensorSlot `json:"slots" doc:"Sensors waiting for a probe"`
	}
}

type EnumerateResponse struct {
	Body struct {
		Added   int `json:"added" doc:"Devices registered"`
		Staged  int `json:"staged" doc:"Sensor slots staged"`
		Skipped int `json:"skipped" doc:"Nodes ignored or already known"`
		Failed  int `json:"failed" doc:"Nodes that could not be opened"`
	}
}

// EnumerateFromResult converts a discovery pass result.
func EnumerateFromResult(r registry.EnumerateResult) *EnumerateResponse {
	resp := &EnumerateResponse{}
	resp.Body.Added = r.Added
	resp.Body.Staged = r.Staged
	resp.Body.Skipped = r.Skipped
	resp.Body.Failed = r.Failed
	return resp
}
