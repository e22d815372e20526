// Package registry owns the camera devices of one process and the sessions
// that lease them.
//
// An Instance is constructed explicitly by its owner and passed to callers;
// there is no package-level singleton. Devices and sessions live in
// generation-checked arenas, so a handle kept past the lifetime of its slot
// is reported as not found instead of aliasing a newer entity.
//
// Every public operation brackets itself with a reference on the instance
// (and on the session it addresses). Close and DestroySession move the
// entity to the destroying state first, then wait for the count to drain.
package registry

import (
	"log/slog"
	"sync"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/logging"
	"github.com/smazurov/camhw/internal/metrics"
	"github.com/smazurov/camhw/internal/poll"
)

// Instance is the device registry.
type Instance struct {
	opts    Options
	logger  *slog.Logger
	life    *lifecycle.Tracker
	driver  kmd.Driver
	table   *hwdev.Table
	bus     *events.Bus
	buffers BufferRegistry
	loop    *poll.Loop

	mu       sync.RWMutex
	devices  *arena.Arena[*hwdev.Device]
	byFD     map[int]*hwdev.Device
	byPath   map[string]*hwdev.Device
	slots    []*sensorSlot
	nextSlot int
	sessions *arena.Arena[*Session]
	byKMD    map[int32]*Session
	reqMgr   *hwdev.Device
	cpas     *hwdev.Device
}

// New creates a running registry with no devices.
func New(opts Options) (*Instance, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	i := &Instance{
		opts:     opts,
		logger:   logging.GetLogger("registry"),
		life:     lifecycle.NewTracker("registry"),
		driver:   opts.Driver,
		table:    opts.Families,
		bus:      opts.Events,
		buffers:  opts.Buffers,
		devices:  arena.New[*hwdev.Device](opts.MaxDevices),
		byFD:     make(map[int]*hwdev.Device),
		byPath:   make(map[string]*hwdev.Device),
		sessions: arena.New[*Session](opts.MaxSessions),
		byKMD:    make(map[int32]*Session),
	}

	loop, err := poll.New(i.dispatch)
	if err != nil {
		return nil, err
	}
	i.loop = loop
	i.loop.Start()

	if err := i.life.Transition(lifecycle.StateValid); err != nil {
		_ = i.loop.Stop(opts.PollShutdownTimeout)
		return nil, err
	}

	i.logger.Info("Registry started",
		"max_devices", opts.MaxDevices,
		"max_sessions", opts.MaxSessions,
		"max_links", opts.MaxLinks)
	return i, nil
}

// State returns the registry lifecycle state.
func (i *Instance) State() lifecycle.State {
	return i.life.State()
}

// Close destroys every session, closes every device and stops the poll
// loop. It waits for in-flight operations to finish first.
func (i *Instance) Close() error {
	if err := i.life.Transition(lifecycle.StateDestroying); err != nil {
		return err
	}
	i.life.WaitForZero()

	i.mu.RLock()
	var sessions []*Session
	i.sessions.Each(func(_ arena.Handle, s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	i.mu.RUnlock()

	for _, s := range sessions {
		if err := i.teardownSession(s); err != nil {
			i.logger.Warn("Session teardown failed during close", "session", s.handle.String(), "error", err)
		}
	}

	i.mu.Lock()
	var devices []*hwdev.Device
	i.devices.Each(func(_ arena.Handle, d *hwdev.Device) bool {
		devices = append(devices, d)
		return true
	})
	for _, slot := range i.slots {
		devices = append(devices, slot.dev)
	}
	if i.reqMgr != nil {
		devices = append(devices, i.reqMgr)
	}
	i.slots = nil
	i.mu.Unlock()

	for _, d := range devices {
		i.closeDevice(d)
	}

	if err := i.loop.Stop(i.opts.PollShutdownTimeout); err != nil {
		// logged by the loop; teardown continues
		i.logger.Warn("Poll loop shutdown incomplete", "error", err)
	}

	i.mu.Lock()
	i.reqMgr, i.cpas = nil, nil
	i.mu.Unlock()
	metrics.SetSessions(0)
	metrics.SetSensorSlots(0)

	i.logger.Info("Registry closed")
	return nil
}

// enter takes an operation reference on the registry.
func (i *Instance) enter() (func(), error) {
	if err := i.life.Acquire(); err != nil {
		return nil, hwerr.Wrap(hwerr.InvalidState, "registry not usable", err)
	}
	return func() { _ = i.life.Release() }, nil
}

// enterSession takes operation references on the registry and on session h.
func (i *Instance) enterSession(h arena.Handle) (*Session, func(), error) {
	leave, err := i.enter()
	if err != nil {
		return nil, nil, err
	}

	i.mu.RLock()
	s, ok := i.sessions.Get(h)
	i.mu.RUnlock()
	if !ok {
		leave()
		return nil, nil, hwerr.Newf(hwerr.NotFound, "session %s not found", h)
	}
	if err := s.life.Acquire(); err != nil {
		leave()
		return nil, nil, hwerr.Wrap(hwerr.InvalidState, "session "+h.String()+" not usable", err)
	}
	return s, func() {
		_ = s.life.Release()
		leave()
	}, nil
}

func (i *Instance) device(index arena.Handle) (*hwdev.Device, error) {
	i.mu.RLock()
	d, ok := i.devices.Get(index)
	i.mu.RUnlock()
	if !ok {
		return nil, hwerr.Newf(hwerr.NotFound, "device %s not found", index)
	}
	return d, nil
}

// requestManager returns the request manager device.
func (i *Instance) requestManager() (*hwdev.Device, error) {
	i.mu.RLock()
	rm := i.reqMgr
	i.mu.RUnlock()
	if rm == nil {
		return nil, hwerr.New(hwerr.InvalidState, "no request manager registered")
	}
	return rm, nil
}

// managerCall issues a request manager control call.
func (i *Instance) managerCall(op kmd.Opcode, payload kmd.Payload) error {
	rm, err := i.requestManager()
	if err != nil {
		return err
	}
	return rm.Ops().Ioctl(rm, op, payload)
}

// BusController returns the bus/QoS controller device, if registered.
func (i *Instance) BusController() (*hwdev.Device, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cpas, i.cpas != nil
}

// Devices returns a snapshot of every registered device in index order.
// The request manager is listed last.
func (i *Instance) Devices() []hwdev.Info {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]hwdev.Info, 0, i.devices.Len()+1)
	i.devices.Each(func(_ arena.Handle, d *hwdev.Device) bool {
		out = append(out, d.Snapshot())
		return true
	})
	if i.reqMgr != nil {
		out = append(out, i.reqMgr.Snapshot())
	}
	return out
}

// Device returns the snapshot of the device at index.
func (i *Instance) Device(index arena.Handle) (hwdev.Info, error) {
	d, err := i.device(index)
	if err != nil {
		return hwdev.Info{}, err
	}
	return d.Snapshot(), nil
}

// QueryCapability copies the cached capability blob of the device at index
// into out. len(out) must match the family capability size exactly.
func (i *Instance) QueryCapability(index arena.Handle, out []byte) error {
	leave, err := i.enter()
	if err != nil {
		return err
	}
	defer leave()

	d, err := i.device(index)
	if err != nil {
		return err
	}
	return d.QueryCapability(out)
}

// CapabilitySize returns the capability blob size of the device at index.
func (i *Instance) CapabilitySize(index arena.Handle) (int, error) {
	d, err := i.device(index)
	if err != nil {
		return 0, err
	}
	return d.Ops().CapSize(), nil
}

// ParseDeviceAttribute configures the device at index from attrs.
func (i *Instance) ParseDeviceAttribute(index arena.Handle, attrs []hwdev.Attribute) error {
	leave, err := i.enter()
	if err != nil {
		return err
	}
	defer leave()

	d, err := i.device(index)
	if err != nil {
		return err
	}
	return d.ApplyAttributes(attrs)
}
