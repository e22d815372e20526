//go:build linux

// Package kmdtest provides an in-memory camera driver for tests.
//
// Every opened node is backed by a pipe, so the returned descriptor is a
// real fd that the poll loop can wait on. Injected events make the pipe
// readable until they are dequeued.
package kmdtest

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
)

// Call records one control call.
type Call struct {
	Seq     int
	FD      int
	Path    string
	Opcode  kmd.Opcode
	Payload kmd.Payload
}

// Hook runs before the default behaviour of an opcode. A non-nil error
// is returned to the caller and skips the default behaviour.
type Hook func(fd int, call *kmd.ControlCall) error

type node struct {
	path   string
	r, w   int
	events []kmd.Event
	subs   map[kmd.EventKind]bool
}

// Driver is a fake kmd.Driver.
type Driver struct {
	mu         sync.Mutex
	nodes      map[int]*node
	calls      []Call
	caps       map[string][]byte
	failOpen   map[string]error
	hooks      map[kmd.Opcode]Hook
	probe      map[string]bool
	devHandles map[int32]int
	sessions   map[int32]bool
	links      map[int32]int32
	buffers    map[uint64]bool
	nextHandle int32
}

// New creates an empty fake driver.
func New() *Driver {
	return &Driver{
		nodes:      make(map[int]*node),
		caps:       make(map[string][]byte),
		failOpen:   make(map[string]error),
		hooks:      make(map[kmd.Opcode]Hook),
		probe:      make(map[string]bool),
		devHandles: make(map[int32]int),
		sessions:   make(map[int32]bool),
		links:      make(map[int32]int32),
		buffers:    make(map[uint64]bool),
		nextHandle: 0x100,
	}
}

// SetCaps sets the capability blob reported for path.
func (d *Driver) SetCaps(path string, blob []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps[path] = append([]byte(nil), blob...)
}

// FailOpen makes Open(path) fail with err.
func (d *Driver) FailOpen(path string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpen[path] = err
}

// SetProbeResult decides whether a sensor probe on path detects a sensor.
func (d *Driver) SetProbeResult(path string, detected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probe[path] = detected
}

// Hook installs fn for op, replacing any earlier hook. A nil fn removes it.
func (d *Driver) Hook(op kmd.Opcode, fn Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.hooks, op)
		return
	}
	d.hooks[op] = fn
}

// Calls returns a copy of every recorded control call.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsFor returns the recorded calls with the given opcode, in order.
func (d *Driver) CallsFor(op kmd.Opcode) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if c.Opcode == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls with op were issued on path.
func (d *Driver) Count(path string, op kmd.Opcode) int {
	n := 0
	for _, c := range d.CallsFor(op) {
		if c.Path == path {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// FD returns the open descriptor for path, or -1.
func (d *Driver) FD(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for fd, n := range d.nodes {
		if n.path == path {
			return fd
		}
	}
	return -1
}

// OpenPaths returns the paths of every open node, sorted.
func (d *Driver) OpenPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(d.nodes))
	for _, n := range d.nodes {
		paths = append(paths, n.path)
	}
	sort.Strings(paths)
	return paths
}

// Subscribed reports whether path has subscribed to kind.
func (d *Driver) Subscribed(path string, kind kmd.EventKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.nodes {
		if n.path == path {
			return n.subs[kind]
		}
	}
	return false
}

// Inject queues ev on the node opened at path and makes its fd readable.
func (d *Driver) Inject(path string, ev kmd.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.nodes {
		if n.path != path {
			continue
		}
		n.events = append(n.events, ev)
		_, err := unix.Write(n.w, []byte{1})
		return err
	}
	return fmt.Errorf("kmdtest: %s not open", path)
}

// Open implements kmd.Driver.
func (d *Driver) Open(path string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failOpen[path]; err != nil {
		return -1, err
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, err
	}
	d.nodes[p[0]] = &node{path: path, r: p[0], w: p[1], subs: make(map[kmd.EventKind]bool)}
	return p[0], nil
}

// Close implements kmd.Driver.
func (d *Driver) Close(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[fd]
	if !ok {
		return hwerr.Newf(hwerr.InvalidArgument, "kmdtest: close of unknown fd %d", fd)
	}
	delete(d.nodes, fd)
	_ = unix.Close(n.w)
	return unix.Close(n.r)
}

// Subscribe implements kmd.Driver.
func (d *Driver) Subscribe(fd int, kind kmd.EventKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[fd]
	if !ok {
		return hwerr.Newf(hwerr.InvalidArgument, "kmdtest: subscribe on unknown fd %d", fd)
	}
	n.subs[kind] = true
	return nil
}

// Dequeue implements kmd.Driver.
func (d *Driver) Dequeue(fd int) (kmd.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[fd]
	if !ok {
		return kmd.Event{}, hwerr.Newf(hwerr.InvalidArgument, "kmdtest: dequeue on unknown fd %d", fd)
	}
	if len(n.events) == 0 {
		return kmd.Event{}, hwerr.New(hwerr.NoMore, "kmdtest: no pending event")
	}
	ev := n.events[0]
	n.events = n.events[1:]
	var b [1]byte
	_, _ = unix.Read(n.r, b[:])
	return ev, nil
}

// Control implements kmd.Driver.
func (d *Driver) Control(fd int, call *kmd.ControlCall) error {
	d.mu.Lock()
	n, ok := d.nodes[fd]
	if !ok {
		d.mu.Unlock()
		return hwerr.Newf(hwerr.InvalidArgument, "kmdtest: control on unknown fd %d", fd)
	}
	d.calls = append(d.calls, Call{
		Seq:     len(d.calls),
		FD:      fd,
		Path:    n.path,
		Opcode:  call.Opcode,
		Payload: call.Payload,
	})
	hook := d.hooks[call.Opcode]
	d.mu.Unlock()

	if hook != nil {
		if err := hook(fd, call); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apply(n, call)
}

func (d *Driver) issue() int32 {
	d.nextHandle++
	return d.nextHandle
}

func rejected(op kmd.Opcode, what string, h int32) error {
	return hwerr.Newf(hwerr.InvalidArgument, "kmdtest: %s: unknown %s %d", op, what, h)
}

func (d *Driver) apply(n *node, call *kmd.ControlCall) error {
	op := call.Opcode
	switch p := call.Payload.(type) {
	case *kmd.QueryCap:
		blob, ok := d.caps[n.path]
		if !ok {
			blob = defaultCaps(n.path, len(p.Data))
		}
		copy(p.Data, blob)
	case *kmd.AcquireDev:
		p.DeviceHandle = d.issue()
		d.devHandles[p.DeviceHandle] = n.r
	case *kmd.DeviceCmd:
		if _, ok := d.devHandles[p.DeviceHandle]; !ok {
			return rejected(op, "device handle", p.DeviceHandle)
		}
		if op == kmd.OpReleaseDev {
			delete(d.devHandles, p.DeviceHandle)
		}
	case *kmd.ConfigDev:
		if _, ok := d.devHandles[p.DeviceHandle]; !ok {
			return rejected(op, "device handle", p.DeviceHandle)
		}
	case *kmd.FlushDev:
		if _, ok := d.devHandles[p.DeviceHandle]; !ok {
			return rejected(op, "device handle", p.DeviceHandle)
		}
	case *kmd.AcquireHW:
		if _, ok := d.devHandles[p.DeviceHandle]; !ok {
			return rejected(op, "device handle", p.DeviceHandle)
		}
		if p.Version == kmd.AcquireHWVersion2 {
			p.AcquiredMask = 0x1
		}
	case *kmd.ReleaseHW:
		if _, ok := d.devHandles[p.DeviceHandle]; !ok {
			return rejected(op, "device handle", p.DeviceHandle)
		}
	case *kmd.SensorProbe:
		detected, ok := d.probe[n.path]
		if !ok || detected {
			p.Detected = 1
		}
	case *kmd.SessionInfo:
		switch op {
		case kmd.OpCreateSession:
			p.SessionHandle = d.issue()
			d.sessions[p.SessionHandle] = true
		case kmd.OpDestroySession:
			if !d.sessions[p.SessionHandle] {
				return rejected(op, "session", p.SessionHandle)
			}
			delete(d.sessions, p.SessionHandle)
		}
	case *kmd.LinkInfo:
		if !d.sessions[p.SessionHandle] {
			return rejected(op, "session", p.SessionHandle)
		}
		p.LinkHandle = d.issue()
		d.links[p.LinkHandle] = p.SessionHandle
	case *kmd.UnlinkInfo:
		if d.links[p.LinkHandle] != p.SessionHandle {
			return rejected(op, "link", p.LinkHandle)
		}
		delete(d.links, p.LinkHandle)
	case *kmd.ScheduleRequest:
		if d.links[p.LinkHandle] != p.SessionHandle {
			return rejected(op, "link", p.LinkHandle)
		}
	case *kmd.FlushInfo:
		if !d.sessions[p.SessionHandle] {
			return rejected(op, "session", p.SessionHandle)
		}
	case *kmd.SyncModeInfo:
		if !d.sessions[p.SessionHandle] {
			return rejected(op, "session", p.SessionHandle)
		}
	case *kmd.LinkControlInfo:
		if !d.sessions[p.SessionHandle] {
			return rejected(op, "session", p.SessionHandle)
		}
	case *kmd.DumpInfo:
		p.Filled = min(p.Length, 64)
	case *kmd.MapBuffer:
		p.BufferHandle = uint64(d.issue())
		d.buffers[p.BufferHandle] = true
	case *kmd.ReleaseBuffer:
		if !d.buffers[p.BufferHandle] {
			return rejected(op, "buffer", int32(p.BufferHandle))
		}
		delete(d.buffers, p.BufferHandle)
	case nil:
	default:
		return hwerr.Newf(hwerr.Unsupported, "kmdtest: unexpected payload %T", p)
	}
	return nil
}

// defaultCaps derives a deterministic blob from the node path.
func defaultCaps(path string, size int) []byte {
	blob := make([]byte, size)
	for i := range blob {
		blob[i] = path[i%len(path)] ^ byte(i)
	}
	return blob
}
