package kmd

import (
	"encoding/binary"
	"unsafe"
)

// Wire limits shared with the driver.
const (
	MaxLinkDevices = 16
	MaxSyncLinks   = 4
	MaxMMUHandles  = 16
)

func encode(v any) ([]byte, error) {
	return binary.Append(nil, binary.NativeEndian, v)
}

func decode(b []byte, v any) error {
	_, err := binary.Decode(b, binary.NativeEndian, v)
	return err
}

// addressOf returns the user address of b's backing array, or 0 when empty.
// The caller keeps b reachable until the control call has returned.
func addressOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// QueryCap asks the driver to fill Data with the family capability blob.
type QueryCap struct {
	HandleType HandleType
	Data       []byte
}

type queryCapWire struct {
	Size       uint32
	HandleType uint32
	CapsHandle uint64
}

// MarshalBinary implements Payload.
func (p *QueryCap) MarshalBinary() ([]byte, error) {
	return encode(&queryCapWire{
		Size:       uint32(len(p.Data)),
		HandleType: uint32(p.HandleType),
		CapsHandle: addressOf(p.Data),
	})
}

// UnmarshalBinary implements Payload. Data is filled in place by the driver.
func (p *QueryCap) UnmarshalBinary(b []byte) error {
	var w queryCapWire
	return decode(b, &w)
}

// AcquireDev leases a device to a session. DeviceHandle is returned.
type AcquireDev struct {
	SessionHandle int32
	DeviceHandle  int32
	HandleType    HandleType
	NumResources  uint32
	Resources     []byte
}

type acquireDevWire struct {
	SessionHandle  int32
	DeviceHandle   int32
	HandleType     uint32
	NumResources   uint32
	ResourceHandle uint64
}

// MarshalBinary implements Payload.
func (p *AcquireDev) MarshalBinary() ([]byte, error) {
	return encode(&acquireDevWire{
		SessionHandle:  p.SessionHandle,
		DeviceHandle:   p.DeviceHandle,
		HandleType:     uint32(p.HandleType),
		NumResources:   p.NumResources,
		ResourceHandle: addressOf(p.Resources),
	})
}

// UnmarshalBinary implements Payload.
func (p *AcquireDev) UnmarshalBinary(b []byte) error {
	var w acquireDevWire
	if err := decode(b, &w); err != nil {
		return err
	}
	p.DeviceHandle = w.DeviceHandle
	return nil
}

// DeviceCmd addresses one acquired device (start, stop, release).
type DeviceCmd struct {
	SessionHandle int32
	DeviceHandle  int32
}

// MarshalBinary implements Payload.
func (p *DeviceCmd) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *DeviceCmd) UnmarshalBinary(b []byte) error { return decode(b, p) }

// ConfigDev submits one encoded command packet.
type ConfigDev struct {
	SessionHandle int32
	DeviceHandle  int32
	Offset        uint64
	PacketHandle  uint64
}

// MarshalBinary implements Payload.
func (p *ConfigDev) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *ConfigDev) UnmarshalBinary(b []byte) error { return decode(b, p) }

// FlushType selects what a flush affects.
type FlushType uint32

// Flush types.
const (
	FlushAll FlushType = iota
	FlushCancelRequest
)

// FlushDev flushes one device.
type FlushDev struct {
	SessionHandle int32
	DeviceHandle  int32
	FlushType     FlushType
	_             uint32
	RequestID     int64
}

// MarshalBinary implements Payload.
func (p *FlushDev) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *FlushDev) UnmarshalBinary(b []byte) error { return decode(b, p) }

// AcquireHW versions.
const (
	AcquireHWVersion1 uint32 = 1
	AcquireHWVersion2 uint32 = 2
)

// AcquireHW reserves the hardware blocks behind an acquired device handle.
// Version 2 reports which blocks were granted in AcquiredMask.
type AcquireHW struct {
	Version       uint32
	SessionHandle int32
	DeviceHandle  int32
	HandleType    HandleType
	Data          []byte
	AcquiredMask  uint32
}

type acquireHWWire struct {
	Version       uint32
	SessionHandle int32
	DeviceHandle  int32
	HandleType    uint32
	DataSize      uint32
	AcquiredMask  uint32
	ResourceHdl   uint64
}

// MarshalBinary implements Payload.
func (p *AcquireHW) MarshalBinary() ([]byte, error) {
	return encode(&acquireHWWire{
		Version:       p.Version,
		SessionHandle: p.SessionHandle,
		DeviceHandle:  p.DeviceHandle,
		HandleType:    uint32(p.HandleType),
		DataSize:      uint32(len(p.Data)),
		ResourceHdl:   addressOf(p.Data),
	})
}

// UnmarshalBinary implements Payload.
func (p *AcquireHW) UnmarshalBinary(b []byte) error {
	var w acquireHWWire
	if err := decode(b, &w); err != nil {
		return err
	}
	p.AcquiredMask = w.AcquiredMask
	return nil
}

// ReleaseHW returns the hardware blocks reserved by AcquireHW.
type ReleaseHW struct {
	Version       uint32
	SessionHandle int32
	DeviceHandle  int32
	_             uint32
}

// MarshalBinary implements Payload.
func (p *ReleaseHW) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *ReleaseHW) UnmarshalBinary(b []byte) error { return decode(b, p) }

// SensorProbe asks a sensor slot whether the expected sensor answers.
type SensorProbe struct {
	SlotID       uint32
	SensorID     uint32
	PacketHandle uint64
	Offset       uint64
	Detected     uint32
	_            uint32
}

// MarshalBinary implements Payload.
func (p *SensorProbe) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *SensorProbe) UnmarshalBinary(b []byte) error { return decode(b, p) }

// SessionInfo creates or destroys a driver session.
type SessionInfo struct {
	SessionHandle int32
	_             int32
}

// MarshalBinary implements Payload.
func (p *SessionInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *SessionInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// LinkInfo groups device handles into one real-time pipeline.
type LinkInfo struct {
	SessionHandle int32
	NumDevices    uint32
	DeviceHandles [MaxLinkDevices]int32
	LinkHandle    int32
	_             int32
}

// MarshalBinary implements Payload.
func (p *LinkInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *LinkInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// UnlinkInfo removes a link.
type UnlinkInfo struct {
	SessionHandle int32
	LinkHandle    int32
}

// MarshalBinary implements Payload.
func (p *UnlinkInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *UnlinkInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// SyncModeInfo puts links under one timing master.
type SyncModeInfo struct {
	SessionHandle int32
	SyncMode      uint32
	NumLinks      uint32
	MasterLink    int32
	LinkHandles   [MaxSyncLinks]int32
}

// MarshalBinary implements Payload.
func (p *SyncModeInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *SyncModeInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// LinkControlInfo changes a link's driver-side control mode.
type LinkControlInfo struct {
	Op            uint32
	SessionHandle int32
	NumLinks      uint32
	InitTimeout   uint32
	LinkHandles   [MaxSyncLinks]int32
}

// MarshalBinary implements Payload.
func (p *LinkControlInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *LinkControlInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// ScheduleRequest moves a request from queued to in flight.
type ScheduleRequest struct {
	SessionHandle      int32
	LinkHandle         int32
	Bubble             uint32
	Sync               uint32
	AdditionalTimeout  uint32
	_                  uint32
	ExpectedExposureNs uint64
	RequestID          int64
}

// MarshalBinary implements Payload.
func (p *ScheduleRequest) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *ScheduleRequest) UnmarshalBinary(b []byte) error { return decode(b, p) }

// FlushInfo flushes one request or everything outstanding in a session.
type FlushInfo struct {
	SessionHandle int32
	LinkHandle    int32
	FlushType     FlushType
	_             uint32
	RequestID     int64
}

// MarshalBinary implements Payload.
func (p *FlushInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *FlushInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// DumpInfo asks for diagnostics of an errored request. Filled is returned.
type DumpInfo struct {
	RequestID     int64
	BufferHandle  uint64
	Offset        uint64
	Length        uint64
	Filled        uint64
	SessionHandle int32
	LinkHandle    int32
	DeviceHandle  int32
	ErrorType     uint32
}

// MarshalBinary implements Payload.
func (p *DumpInfo) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *DumpInfo) UnmarshalBinary(b []byte) error { return decode(b, p) }

// Buffer mapping flags.
const (
	MapFlagSecure uint32 = 1 << iota
	MapFlagReadOnly
)

// MapBuffer maps a memory handle into the listed IOMMU domains.
type MapBuffer struct {
	MemHandle    uint64
	Flags        uint32
	NumHandles   uint32
	MMUHandles   [MaxMMUHandles]int32
	BufferHandle uint64
	Size         uint64
}

// MarshalBinary implements Payload.
func (p *MapBuffer) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *MapBuffer) UnmarshalBinary(b []byte) error { return decode(b, p) }

// ReleaseBuffer unmaps a buffer handle returned by MapBuffer.
type ReleaseBuffer struct {
	BufferHandle uint64
}

// MarshalBinary implements Payload.
func (p *ReleaseBuffer) MarshalBinary() ([]byte, error) { return encode(p) }

// UnmarshalBinary implements Payload.
func (p *ReleaseBuffer) UnmarshalBinary(b []byte) error { return decode(b, p) }
