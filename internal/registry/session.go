package registry

import (
	"os"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/metrics"
)

// Message is an asynchronous driver event delivered to a session.
type Message struct {
	Kind      kmd.EventKind
	Session   arena.Handle
	Link      int32
	Device    int32
	RequestID int64
	FrameID   uint64
	Timestamp uint64
	ErrorType kmd.ErrorType
	Flushed   bool // request was aborted by a flush
}

// MessageHandler receives driver events for a session. It runs on the poll
// goroutine and must not block.
type MessageHandler func(userData any, msg Message)

// AcquiredDevice is a session's lease on a device.
type AcquiredDevice struct {
	Handle         int32
	Session        arena.Handle
	DeviceIndex    arena.Handle
	Type           hwdev.Type
	PID            int
	TID            int
	Order          int
	StreamOffOrder int
	Realtime       bool

	dev *hwdev.Device
}

// AcquireParams carries the family-specific acquire payload.
type AcquireParams struct {
	Resources    []byte
	NumResources uint32
}

// Session is one client's set of leased devices and links.
type Session struct {
	handle   arena.Handle
	life     *lifecycle.Tracker
	handler  MessageHandler
	userData any

	mu         sync.Mutex
	kmdHandle  int32
	clientRefs int
	acquired   map[int32]*AcquiredDevice
	realtime   []int32 // device handles in acquisition order
	offline    []int32
	links      map[int32]*Link
	master     int32
	inFlush    bool
	savedFlush FlushRequest
	pending    map[int64]struct{}
	flushed    map[int64]struct{}
}

func newSession(handler MessageHandler, userData any) *Session {
	return &Session{
		handler:  handler,
		userData: userData,
		acquired: make(map[int32]*AcquiredDevice),
		links:    make(map[int32]*Link),
		pending:  make(map[int64]struct{}),
		flushed:  make(map[int64]struct{}),
	}
}

func (s *Session) driverHandle() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kmdHandle
}

func (s *Session) lease(handle int32) (*AcquiredDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.acquired[handle]
	if !ok {
		return nil, hwerr.Newf(hwerr.NotFound, "device handle %d not acquired by session %s", handle, s.handle)
	}
	return a, nil
}

// CreateSession opens a driver session and returns its handle. The caller
// holds the only client reference.
func (i *Instance) CreateSession(handler MessageHandler, userData any) (arena.Handle, error) {
	leave, err := i.enter()
	if err != nil {
		return arena.Invalid, err
	}
	defer leave()

	if _, err := i.requestManager(); err != nil {
		return arena.Invalid, err
	}

	s := newSession(handler, userData)

	i.mu.Lock()
	h, err := i.sessions.Insert(s)
	if err != nil {
		i.mu.Unlock()
		return arena.Invalid, err
	}
	s.handle = h
	s.life = lifecycle.NewTracker("session:" + h.String())
	i.mu.Unlock()

	info := &kmd.SessionInfo{}
	if err := i.managerCall(kmd.OpCreateSession, info); err != nil {
		i.mu.Lock()
		i.sessions.Remove(h)
		i.mu.Unlock()
		return arena.Invalid, err
	}

	s.life.OnStateChange(func(_ string, from, to lifecycle.State) {
		i.bus.Publish(events.SessionStateEvent{
			Session:   h.String(),
			From:      string(from),
			To:        string(to),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	})

	s.mu.Lock()
	s.kmdHandle = info.SessionHandle
	s.clientRefs = 1
	s.mu.Unlock()

	i.mu.Lock()
	i.byKMD[info.SessionHandle] = s
	n := i.sessions.Len()
	i.mu.Unlock()

	if err := s.life.Transition(lifecycle.StateValid); err != nil {
		return arena.Invalid, err
	}

	metrics.SetSessions(n)
	i.logger.Info("Session created", "session", h.String(), "kmd_handle", info.SessionHandle)
	return h, nil
}

// RetainSession adds a client reference to session h.
func (i *Instance) RetainSession(h arena.Handle) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientRefs == 0 {
		return hwerr.Newf(hwerr.InvalidState, "session %s is being destroyed", h)
	}
	s.clientRefs++
	return nil
}

// DestroySession drops one client reference. The last reference tears the
// session down: it waits for in-flight operations, stops and unlinks every
// link, releases every device and destroys the driver session.
func (i *Instance) DestroySession(h arena.Handle) error {
	leave, err := i.enter()
	if err != nil {
		return err
	}
	defer leave()

	i.mu.RLock()
	s, ok := i.sessions.Get(h)
	i.mu.RUnlock()
	if !ok {
		return hwerr.Newf(hwerr.NotFound, "session %s not found", h)
	}

	s.mu.Lock()
	if s.clientRefs == 0 {
		s.mu.Unlock()
		return hwerr.Newf(hwerr.InvalidState, "session %s has no client references", h)
	}
	s.clientRefs--
	last := s.clientRefs == 0
	s.mu.Unlock()

	if !last {
		return nil
	}
	return i.teardownSession(s)
}

// teardownSession destroys s regardless of its client references.
func (i *Instance) teardownSession(s *Session) error {
	if err := s.life.Transition(lifecycle.StateDestroying); err != nil {
		return err
	}
	s.life.WaitForZero()

	s.mu.Lock()
	s.clientRefs = 0
	kmdHandle := s.kmdHandle
	type linkState struct {
		handle int32
		active bool
	}
	links := make([]linkState, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, linkState{l.Handle, l.Active})
	}
	acquired := make([]int32, 0, len(s.realtime)+len(s.offline))
	acquired = append(acquired, s.offline...)
	acquired = append(acquired, s.realtime...)
	s.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, l := range links {
		if l.active {
			keep(i.streamOff(s, l.handle, nil, hwdev.DeactivateUnlink))
		}
		keep(i.unlink(s, l.handle, true))
	}

	// release in reverse acquisition order
	slices.Reverse(acquired)
	for _, handle := range acquired {
		keep(i.releaseDevice(s, handle))
	}

	if err := i.managerCall(kmd.OpDestroySession, &kmd.SessionInfo{SessionHandle: kmdHandle}); err != nil {
		i.logger.Warn("Driver session destroy failed", "session", s.handle.String(), "error", err)
		keep(err)
	}

	i.mu.Lock()
	i.sessions.Remove(s.handle)
	delete(i.byKMD, kmdHandle)
	n := i.sessions.Len()
	i.mu.Unlock()

	metrics.SetSessions(n)
	i.logger.Info("Session destroyed", "session", s.handle.String())
	return firstErr
}

// AcquireDevice leases the device at index to session h and returns the
// driver-issued device handle.
func (i *Instance) AcquireDevice(h arena.Handle, index arena.Handle, params AcquireParams) (int32, error) {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return 0, err
	}
	defer leave()

	d, err := i.device(index)
	if err != nil {
		return 0, err
	}

	handle, err := d.Acquire(hwdev.AcquireRequest{
		SessionHandle: s.driverHandle(),
		Resources:     params.Resources,
		NumResources:  params.NumResources,
	})
	if err != nil {
		return 0, err
	}

	on, off := d.Orders()
	a := &AcquiredDevice{
		Handle:         handle,
		Session:        h,
		DeviceIndex:    index,
		Type:           d.Type(),
		PID:            os.Getpid(),
		TID:            gettid(),
		Order:          on,
		StreamOffOrder: off,
		Realtime:       d.Realtime(),
		dev:            d,
	}

	s.mu.Lock()
	s.acquired[handle] = a
	if a.Realtime {
		s.realtime = append(s.realtime, handle)
	} else {
		s.offline = append(s.offline, handle)
	}
	s.mu.Unlock()

	i.logger.Debug("Device acquired",
		"session", h.String(), "device", d.Path(), "handle", handle, "realtime", a.Realtime)
	return handle, nil
}

// ReleaseDevice returns a lease. Devices still referenced by a link must be
// unlinked first.
func (i *Instance) ReleaseDevice(h arena.Handle, handle int32) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()
	return i.releaseDevice(s, handle)
}

func (i *Instance) releaseDevice(s *Session, handle int32) error {
	s.mu.Lock()
	a, ok := s.acquired[handle]
	if !ok {
		s.mu.Unlock()
		return hwerr.Newf(hwerr.NotFound, "device handle %d not acquired by session %s", handle, s.handle)
	}
	for _, l := range s.links {
		if slices.Contains(l.Devices, handle) {
			s.mu.Unlock()
			return hwerr.Newf(hwerr.Busy, "device handle %d is part of link %d", handle, l.Handle)
		}
	}
	kmdHandle := s.kmdHandle
	s.mu.Unlock()

	if a.dev.HoldsHardware(handle) {
		if err := a.dev.ReleaseHardware(kmdHandle, handle); err != nil {
			i.logger.Warn("Hardware release failed", "handle", handle, "error", err)
		}
	}
	if err := a.dev.Release(kmdHandle, handle); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.acquired, handle)
	s.realtime = slices.DeleteFunc(s.realtime, func(v int32) bool { return v == handle })
	s.offline = slices.DeleteFunc(s.offline, func(v int32) bool { return v == handle })
	s.mu.Unlock()
	return nil
}

// AcquireHardware reserves the hardware behind an acquired device handle.
func (i *Instance) AcquireHardware(h arena.Handle, handle int32, data []byte) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	a, err := s.lease(handle)
	if err != nil {
		return err
	}
	return a.dev.AcquireHardware(s.driverHandle(), handle, data)
}

// AcquireHardwareV2 reserves hardware and returns the granted block mask.
func (i *Instance) AcquireHardwareV2(h arena.Handle, handle int32, data []byte) (uint32, error) {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return 0, err
	}
	defer leave()

	a, err := s.lease(handle)
	if err != nil {
		return 0, err
	}
	return a.dev.AcquireHardwareV2(s.driverHandle(), handle, data)
}

// ReleaseHardware returns hardware reserved by AcquireHardware.
func (i *Instance) ReleaseHardware(h arena.Handle, handle int32) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	a, err := s.lease(handle)
	if err != nil {
		return err
	}
	return a.dev.ReleaseHardware(s.driverHandle(), handle)
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	Handle     arena.Handle
	KMDHandle  int32
	State      lifecycle.State
	ClientRefs int
	Operations int
	Acquired   []AcquiredDevice
	Links      []Link
	Master     int32
	InFlush    bool
	SavedFlush FlushRequest
}

// Session returns the snapshot of session h.
func (i *Instance) Session(h arena.Handle) (SessionInfo, error) {
	i.mu.RLock()
	s, ok := i.sessions.Get(h)
	i.mu.RUnlock()
	if !ok {
		return SessionInfo{}, hwerr.Newf(hwerr.NotFound, "session %s not found", h)
	}
	return s.snapshot(), nil
}

// Sessions returns a snapshot of every session in handle order.
func (i *Instance) Sessions() []SessionInfo {
	i.mu.RLock()
	var sessions []*Session
	i.sessions.Each(func(_ arena.Handle, s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	i.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	return out
}

func (s *Session) snapshot() SessionInfo {
	state := s.life.State()
	refs := s.life.Refs()

	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		Handle:     s.handle,
		KMDHandle:  s.kmdHandle,
		State:      state,
		ClientRefs: s.clientRefs,
		Operations: refs,
		Master:     s.master,
		InFlush:    s.inFlush,
		SavedFlush: s.savedFlush,
	}
	for _, handle := range append(slices.Clone(s.realtime), s.offline...) {
		info.Acquired = append(info.Acquired, *s.acquired[handle])
	}
	for _, l := range s.links {
		c := *l
		c.Devices = slices.Clone(l.Devices)
		info.Links = append(info.Links, c)
	}
	slices.SortFunc(info.Links, func(a, b Link) int { return int(a.Handle - b.Handle) })
	return info
}
