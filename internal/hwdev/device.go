package hwdev

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/logging"
	"github.com/smazurov/camhw/internal/metrics"
)

// MMUHandles is a secure/non-secure IOMMU handle pair for one domain.
type MMUHandles struct {
	NonSecure int32
	Secure    int32
}

// Pick returns the handle for the requested security mode.
func (m MMUHandles) Pick(secure bool) int32 {
	if secure {
		return m.Secure
	}
	return m.NonSecure
}

// Device is one hardware node exposed by the driver.
//
// The lifecycle reference count tracks distinct sessions holding a lease,
// so it never exceeds the number of sessions using the device.
type Device struct {
	path   string
	name   string
	typ    Type
	ops    Ops
	driver kmd.Driver
	life   *lifecycle.Tracker
	logger *slog.Logger

	mu             sync.Mutex
	index          arena.Handle
	fd             int
	order          int
	streamOffOrder int
	part           Participation
	leases         map[int32]int32 // device handle -> session handle
	perSession     map[int32]int   // session handle -> live leases
	hardware       map[int32]bool  // device handles holding hardware
	mmu            MMUHandles
	cdm            MMUHandles

	capsMu sync.Mutex
	caps   []byte
}

// New creates a closed device bound to its family operation table.
func New(path, name string, ops Ops, driver kmd.Driver) *Device {
	typ := ops.Type()
	return &Device{
		path:           path,
		name:           name,
		typ:            typ,
		ops:            ops,
		driver:         driver,
		life:           lifecycle.NewTracker(fmt.Sprintf("%s:%s", typ, path)),
		logger:         logging.GetLogger("hwdev").With("device", path, "type", typ.String()),
		fd:             -1,
		order:          StreamOnOrder(typ),
		streamOffOrder: StreamOffOrder(typ),
		part:           ops.Participation(),
		leases:         make(map[int32]int32),
		perSession:     make(map[int32]int),
		hardware:       make(map[int32]bool),
	}
}

// Open opens the node and makes the device usable.
func (d *Device) Open() error {
	if err := d.ops.Open(d); err != nil {
		return err
	}
	return d.life.Transition(lifecycle.StateValid)
}

// Close closes the node. Outstanding leases make it fail with Busy.
func (d *Device) Close() error {
	if err := d.life.TransitionIdle(lifecycle.StateDestroying); err != nil {
		return err
	}
	return d.ops.Close(d)
}

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Name returns the driver entity name.
func (d *Device) Name() string { return d.name }

// Type returns the hardware family.
func (d *Device) Type() Type { return d.typ }

// Ops returns the family operation table.
func (d *Device) Ops() Ops { return d.ops }

// Driver returns the driver the device talks to.
func (d *Device) Driver() kmd.Driver { return d.driver }

// Lifecycle returns the device's state tracker.
func (d *Device) Lifecycle() *lifecycle.Tracker { return d.life }

// Index returns the registry slot handle.
func (d *Device) Index() arena.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index
}

// SetIndex records the registry slot handle.
func (d *Device) SetIndex(h arena.Handle) {
	d.mu.Lock()
	d.index = h
	d.mu.Unlock()
}

// FD returns the open descriptor, or -1.
func (d *Device) FD() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd
}

func (d *Device) setFD(fd int) {
	d.mu.Lock()
	d.fd = fd
	d.mu.Unlock()
}

// Orders returns the stream-on and stream-off priorities.
func (d *Device) Orders() (on, off int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order, d.streamOffOrder
}

// Realtime reports whether the device belongs to the streaming pipeline.
func (d *Device) Realtime() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.part.Realtime
}

// Participates reports whether the device takes part in a transition with mode.
func (d *Device) Participates(mode DeactivateMode) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.part.Participates(mode)
}

// MMU returns the device DMA IOMMU handles.
func (d *Device) MMU() MMUHandles {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mmu
}

// CDM returns the command-DMA IOMMU handles.
func (d *Device) CDM() MMUHandles {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cdm
}

func (d *Device) setMMU(mmu, cdm MMUHandles) {
	d.mu.Lock()
	d.mmu, d.cdm = mmu, cdm
	d.mu.Unlock()
}

// Refcount returns the number of sessions holding a lease.
func (d *Device) Refcount() int {
	return d.life.Refs()
}

// Leases returns the live device handles held by session.
func (d *Device) Leases(session int32) []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int32
	for h, s := range d.leases {
		if s == session {
			out = append(out, h)
		}
	}
	return out
}

// LeaseOwner returns the session holding handle.
func (d *Device) LeaseOwner(handle int32) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.leases[handle]
	return s, ok
}

func (d *Device) control(call *kmd.ControlCall) error {
	fd := d.FD()
	if fd < 0 {
		return hwerr.Newf(hwerr.InvalidState, "%s: not open", d.path)
	}
	err := d.driver.Control(fd, call)
	metrics.ObserveDriverCall(d.typ.String(), call.Opcode.String(), err)
	if err != nil {
		d.logger.Debug("Driver call failed", "opcode", call.Opcode.String(), "error", err)
	}
	return err
}

func (d *Device) usable() error {
	if st := d.life.State(); !st.Usable() {
		return hwerr.Newf(hwerr.InvalidState, "%s: device in state %s", d.path, st)
	}
	return nil
}

// QueryCapability copies the cached capability blob into out.
// len(out) must equal the family capability size.
func (d *Device) QueryCapability(out []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	return d.ops.UMDQueryCap(d, out)
}

// HasCapabilities reports whether the capability blob is cached.
func (d *Device) HasCapabilities() bool {
	d.capsMu.Lock()
	defer d.capsMu.Unlock()
	return d.caps != nil
}

// Acquire leases the device to a session and returns the device handle.
func (d *Device) Acquire(req AcquireRequest) (int32, error) {
	a, ok := d.ops.(Acquirer)
	if !ok {
		return 0, d.unsupported("acquire")
	}
	if err := d.usable(); err != nil {
		return 0, err
	}

	if err := d.reserve(req.SessionHandle); err != nil {
		return 0, err
	}
	handle, err := a.Acquire(d, req)
	if err != nil {
		_ = d.unreserve(req.SessionHandle)
		return 0, err
	}

	d.mu.Lock()
	d.leases[handle] = req.SessionHandle
	d.mu.Unlock()

	d.logger.Debug("Device acquired", "session", req.SessionHandle, "handle", handle)
	return handle, nil
}

// Release returns a lease. Releasing an unknown handle fails with NotFound.
func (d *Device) Release(session, handle int32) error {
	a, ok := d.ops.(Acquirer)
	if !ok {
		return d.unsupported("release")
	}

	d.mu.Lock()
	owner, held := d.leases[handle]
	d.mu.Unlock()
	if !held || owner != session {
		return hwerr.Newf(hwerr.NotFound, "%s: handle %d not held by session %d", d.path, handle, session)
	}

	if err := a.Release(d, session, handle); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.leases, handle)
	delete(d.hardware, handle)
	d.mu.Unlock()
	return d.unreserve(session)
}

// reserve counts one more lease for session before the driver is asked for
// it. The session's first lease takes the lifecycle reference; the check and
// the count move together under d.mu.
func (d *Device) reserve(session int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.perSession[session] == 0 {
		if err := d.life.Acquire(); err != nil {
			return err
		}
	}
	d.perSession[session]++
	return nil
}

// unreserve undoes reserve. The session's last lease drops the reference.
func (d *Device) unreserve(session int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perSession[session]--
	if d.perSession[session] > 0 {
		return nil
	}
	delete(d.perSession, session)
	return d.life.Release()
}

// StreamOn starts the device unless its family sits out mode.
// The returned bool reports whether the device actually transitioned.
func (d *Device) StreamOn(session, handle int32, mode DeactivateMode) (bool, error) {
	s, ok := d.ops.(Streamer)
	if !ok {
		return false, d.unsupported("stream on")
	}
	if !d.Participates(mode) {
		return false, nil
	}
	if err := d.checkLease(session, handle); err != nil {
		return false, err
	}
	return true, s.StreamOn(d, session, handle, mode)
}

// StreamOff stops the device unless its family sits out mode.
func (d *Device) StreamOff(session, handle int32, mode DeactivateMode) (bool, error) {
	s, ok := d.ops.(Streamer)
	if !ok {
		return false, d.unsupported("stream off")
	}
	if !d.Participates(mode) {
		return false, nil
	}
	if err := d.checkLease(session, handle); err != nil {
		return false, err
	}
	return true, s.StreamOff(d, session, handle, mode)
}

// CanStream reports whether the family implements stream on/off.
func (d *Device) CanStream() bool {
	_, ok := d.ops.(Streamer)
	return ok
}

// Submit hands one command packet to the device.
func (d *Device) Submit(session, handle int32, packet, offset uint64) error {
	s, ok := d.ops.(Submitter)
	if !ok {
		return d.unsupported("submit")
	}
	if err := d.checkLease(session, handle); err != nil {
		return err
	}
	return s.Submit(d, session, handle, packet, offset)
}

// AcquireHardware reserves the hardware blocks behind handle.
func (d *Device) AcquireHardware(session, handle int32, data []byte) error {
	h, ok := d.ops.(HardwareAcquirer)
	if !ok {
		return d.unsupported("acquire hardware")
	}
	if err := d.checkLease(session, handle); err != nil {
		return err
	}
	if err := h.AcquireHardware(d, session, handle, data); err != nil {
		return err
	}
	d.markHardware(handle, true)
	return nil
}

// AcquireHardwareV2 reserves hardware and reports the granted block mask.
func (d *Device) AcquireHardwareV2(session, handle int32, data []byte) (uint32, error) {
	h, ok := d.ops.(HardwareAcquirer)
	if !ok {
		return 0, d.unsupported("acquire hardware v2")
	}
	if err := d.checkLease(session, handle); err != nil {
		return 0, err
	}
	mask, err := h.AcquireHardwareV2(d, session, handle, data)
	if err != nil {
		return 0, err
	}
	d.markHardware(handle, true)
	return mask, nil
}

// ReleaseHardware returns hardware reserved by AcquireHardware.
func (d *Device) ReleaseHardware(session, handle int32) error {
	h, ok := d.ops.(HardwareAcquirer)
	if !ok {
		return d.unsupported("release hardware")
	}
	if err := d.checkLease(session, handle); err != nil {
		return err
	}
	d.mu.Lock()
	held := d.hardware[handle]
	d.mu.Unlock()
	if !held {
		return hwerr.Newf(hwerr.InvalidState, "%s: handle %d holds no hardware", d.path, handle)
	}
	if err := h.ReleaseHardware(d, session, handle); err != nil {
		return err
	}
	d.markHardware(handle, false)
	return nil
}

// HoldsHardware reports whether handle currently holds hardware.
func (d *Device) HoldsHardware(handle int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hardware[handle]
}

func (d *Device) markHardware(handle int32, held bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if held {
		d.hardware[handle] = true
	} else {
		delete(d.hardware, handle)
	}
}

// Flush drops queued work on the device.
func (d *Device) Flush(session, handle int32, ft kmd.FlushType, requestID int64) error {
	f, ok := d.ops.(Flusher)
	if !ok {
		return d.unsupported("flush")
	}
	if err := d.checkLease(session, handle); err != nil {
		return err
	}
	return f.Flush(d, session, handle, ft, requestID)
}

// CanFlush reports whether the family implements per-device flush.
func (d *Device) CanFlush() bool {
	_, ok := d.ops.(Flusher)
	return ok
}

// Dump asks the device for request diagnostics.
func (d *Device) Dump(info *kmd.DumpInfo) error {
	dm, ok := d.ops.(Dumper)
	if !ok {
		return d.unsupported("dump")
	}
	if err := d.checkLease(info.SessionHandle, info.DeviceHandle); err != nil {
		return err
	}
	return dm.Dump(d, info)
}

// Probe asks a sensor slot to identify its sensor.
func (d *Device) Probe(req ProbeRequest) (bool, error) {
	p, ok := d.ops.(Prober)
	if !ok {
		return false, d.unsupported("probe")
	}
	if err := d.usable(); err != nil {
		return false, err
	}
	return p.Probe(d, req)
}

func (d *Device) checkLease(session, handle int32) error {
	d.mu.Lock()
	owner, ok := d.leases[handle]
	d.mu.Unlock()
	if !ok || owner != session {
		return hwerr.Newf(hwerr.InvalidArgument, "%s: handle %d not held by session %d", d.path, handle, session)
	}
	return nil
}

func (d *Device) unsupported(op string) error {
	return hwerr.Newf(hwerr.Unsupported, "%s family does not support %s", d.typ, op)
}

// Info is a point-in-time view of a device.
type Info struct {
	Index          arena.Handle
	Path           string
	Name           string
	Type           Type
	State          lifecycle.State
	Refcount       int
	Leases         int
	Order          int
	StreamOffOrder int
	Realtime       bool
	MMU            MMUHandles
	CDM            MMUHandles
	CapsCached     bool
}

// Snapshot returns the device's current Info.
func (d *Device) Snapshot() Info {
	cached := d.HasCapabilities()
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		Index:          d.index,
		Path:           d.path,
		Name:           d.name,
		Type:           d.typ,
		State:          d.life.State(),
		Refcount:       d.life.Refs(),
		Leases:         len(d.leases),
		Order:          d.order,
		StreamOffOrder: d.streamOffOrder,
		Realtime:       d.part.Realtime,
		MMU:            d.mmu,
		CDM:            d.cdm,
		CapsCached:     cached,
	}
}
