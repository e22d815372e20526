package hwdev

import (
	"sync"

	"github.com/smazurov/camhw/internal/kmd"
)

// Ops is the operation table every hardware family implements.
//
// Optional operations live in the smaller interfaces below. A family that
// does not support one simply does not implement it; Device checks with a
// type assertion before dispatching and reports Unsupported otherwise.
type Ops interface {
	Type() Type
	Open(d *Device) error
	Close(d *Device) error
	Ioctl(d *Device, op kmd.Opcode, payload kmd.Payload) error
	Ioctl2(d *Device, op kmd.Opcode, payload kmd.Payload, ht kmd.HandleType) error
	KMDQueryCap(d *Device) error
	UMDQueryCap(d *Device, out []byte) error
	CapSize() int
	Participation() Participation
}

// AcquireRequest describes a device lease.
type AcquireRequest struct {
	SessionHandle int32
	Resources     []byte
	NumResources  uint32
}

// Acquirer leases a device to a session.
type Acquirer interface {
	Acquire(d *Device, req AcquireRequest) (int32, error)
	Release(d *Device, session, handle int32) error
}

// Streamer starts and stops an acquired device.
type Streamer interface {
	StreamOn(d *Device, session, handle int32, mode DeactivateMode) error
	StreamOff(d *Device, session, handle int32, mode DeactivateMode) error
}

// Submitter hands one encoded command packet to a device.
type Submitter interface {
	Submit(d *Device, session, handle int32, packet, offset uint64) error
}

// HardwareAcquirer reserves hardware blocks separately from the logical lease.
type HardwareAcquirer interface {
	AcquireHardware(d *Device, session, handle int32, data []byte) error
	AcquireHardwareV2(d *Device, session, handle int32, data []byte) (uint32, error)
	ReleaseHardware(d *Device, session, handle int32) error
}

// Flusher drops queued work on one device.
type Flusher interface {
	Flush(d *Device, session, handle int32, ft kmd.FlushType, requestID int64) error
}

// Dumper writes diagnostics for an errored request.
type Dumper interface {
	Dump(d *Device, info *kmd.DumpInfo) error
}

// ProbeRequest asks a sensor slot to identify its sensor.
type ProbeRequest struct {
	SlotID       uint32
	SensorID     uint32
	PacketHandle uint64
	Offset       uint64
}

// Prober identifies the sensor behind a slot.
type Prober interface {
	Probe(d *Device, req ProbeRequest) (bool, error)
}

// Table maps hardware families to their operation tables.
type Table struct {
	mu  sync.RWMutex
	ops map[Type]Ops
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{ops: make(map[Type]Ops)}
}

// DefaultTable returns a table with every built-in family registered.
func DefaultTable() *Table {
	t := NewTable()
	for _, ops := range builtinFamilies() {
		t.Register(ops)
	}
	return t
}

// Register adds or replaces the operation table for ops.Type().
func (t *Table) Register(ops Ops) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops[ops.Type()] = ops
}

// Lookup returns the operation table for typ.
func (t *Table) Lookup(typ Type) (Ops, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ops, ok := t.ops[typ]
	return ops, ok
}
