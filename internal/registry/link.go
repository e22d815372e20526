package registry

import (
	"slices"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/metrics"
)

// SyncMode selects how linked pipelines are synchronised.
type SyncMode uint32

// Sync modes.
const (
	SyncNone SyncMode = iota
	SyncEnabled
)

// LinkControlOp changes a link's driver-side control mode.
type LinkControlOp uint32

// Link control operations.
const (
	LinkActivate LinkControlOp = iota
	LinkDeactivate
)

func (op LinkControlOp) String() string {
	if op == LinkActivate {
		return "activate"
	}
	return "deactivate"
}

// Link is a set of real-time devices that stream on and off together.
type Link struct {
	Handle   int32
	Devices  []int32
	SyncMode SyncMode
	Master   bool
	Active   bool // streaming
	Paused   bool // deactivated through LinkControl
}

// Link groups acquired device handles into one pipeline and returns the
// driver link handle.
func (i *Instance) Link(h arena.Handle, devices []int32) (int32, error) {
	if len(devices) == 0 || len(devices) > kmd.MaxLinkDevices {
		return 0, hwerr.Newf(hwerr.InvalidArgument, "link needs 1..%d devices, got %d", kmd.MaxLinkDevices, len(devices))
	}

	s, leave, err := i.enterSession(h)
	if err != nil {
		return 0, err
	}
	defer leave()

	info := &kmd.LinkInfo{NumDevices: uint32(len(devices))}

	s.mu.Lock()
	if len(s.links) >= i.opts.MaxLinks {
		s.mu.Unlock()
		return 0, hwerr.Newf(hwerr.OutOfBounds, "session %s already has %d links", h, len(s.links))
	}
	for n, handle := range devices {
		a, ok := s.acquired[handle]
		if !ok {
			s.mu.Unlock()
			return 0, hwerr.Newf(hwerr.InvalidArgument, "device handle %d not acquired by session %s", handle, h)
		}
		if !a.Realtime {
			s.mu.Unlock()
			return 0, hwerr.Newf(hwerr.InvalidArgument, "device handle %d is not a real-time device", handle)
		}
		if slices.Contains(devices[:n], handle) {
			s.mu.Unlock()
			return 0, hwerr.Newf(hwerr.InvalidArgument, "device handle %d listed twice", handle)
		}
		info.DeviceHandles[n] = handle
	}
	info.SessionHandle = s.kmdHandle
	s.mu.Unlock()

	if err := i.managerCall(kmd.OpLink, info); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.links[info.LinkHandle] = &Link{Handle: info.LinkHandle, Devices: slices.Clone(devices)}
	s.mu.Unlock()

	metrics.AddLinks(1)
	i.logger.Debug("Link created", "session", h.String(), "link", info.LinkHandle, "devices", len(devices))
	return info.LinkHandle, nil
}

// Unlink removes a link. Active links must be streamed off first.
func (i *Instance) Unlink(h arena.Handle, link int32) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()
	return i.unlink(s, link, false)
}

// unlink removes link from s. With force, the record is dropped even when
// the driver rejects the call.
func (i *Instance) unlink(s *Session, link int32, force bool) error {
	s.mu.Lock()
	l, ok := s.links[link]
	if !ok {
		s.mu.Unlock()
		return hwerr.Newf(hwerr.NotFound, "link %d not found in session %s", link, s.handle)
	}
	if l.Active && !force {
		s.mu.Unlock()
		return hwerr.Newf(hwerr.Busy, "link %d is streaming", link)
	}
	kmdHandle := s.kmdHandle
	s.mu.Unlock()

	err := i.managerCall(kmd.OpUnlink, &kmd.UnlinkInfo{SessionHandle: kmdHandle, LinkHandle: link})
	if err != nil && !force {
		return err
	}

	s.mu.Lock()
	delete(s.links, link)
	if s.master == link {
		s.master = 0
	}
	s.mu.Unlock()

	metrics.AddLinks(-1)
	return err
}

// SyncLinks puts links under one timing master. The master must be one of
// links; every other link in the group becomes a follower. A session has a
// single master, so enabling sync fails with Busy while a group that does not
// include the current master is still synchronised.
func (i *Instance) SyncLinks(h arena.Handle, links []int32, master int32, mode SyncMode) error {
	if len(links) < 2 || len(links) > kmd.MaxSyncLinks {
		return hwerr.Newf(hwerr.InvalidArgument, "sync needs 2..%d links, got %d", kmd.MaxSyncLinks, len(links))
	}
	if !slices.Contains(links, master) {
		return hwerr.Newf(hwerr.InvalidArgument, "master link %d is not in the sync group", master)
	}

	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	info := &kmd.SyncModeInfo{
		SyncMode:   uint32(mode),
		NumLinks:   uint32(len(links)),
		MasterLink: master,
	}

	s.mu.Lock()
	for n, link := range links {
		if _, ok := s.links[link]; !ok {
			s.mu.Unlock()
			return hwerr.Newf(hwerr.NotFound, "link %d not found in session %s", link, h)
		}
		info.LinkHandles[n] = link
	}
	if mode != SyncNone && s.master != 0 && !slices.Contains(links, s.master) {
		current := s.master
		s.mu.Unlock()
		return hwerr.Newf(hwerr.Busy, "session %s already synchronised under master link %d", h, current)
	}
	info.SessionHandle = s.kmdHandle
	s.mu.Unlock()

	if err := i.managerCall(kmd.OpSyncMode, info); err != nil {
		return err
	}

	s.mu.Lock()
	for _, link := range links {
		l := s.links[link]
		if l == nil {
			continue
		}
		l.SyncMode = mode
		l.Master = link == master && mode != SyncNone
	}
	if mode == SyncNone {
		if slices.Contains(links, s.master) {
			s.master = 0
		}
	} else {
		s.master = master
	}
	s.mu.Unlock()

	i.logger.Debug("Links synchronised", "session", h.String(), "master", master, "links", len(links), "mode", mode)
	return nil
}

// LinkControl activates or deactivates links in the driver without
// unlinking them.
func (i *Instance) LinkControl(h arena.Handle, links []int32, op LinkControlOp, initTimeout uint32) error {
	if len(links) == 0 || len(links) > kmd.MaxSyncLinks {
		return hwerr.Newf(hwerr.InvalidArgument, "link control needs 1..%d links, got %d", kmd.MaxSyncLinks, len(links))
	}

	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	info := &kmd.LinkControlInfo{
		Op:          uint32(op),
		NumLinks:    uint32(len(links)),
		InitTimeout: initTimeout,
	}

	s.mu.Lock()
	for n, link := range links {
		if _, ok := s.links[link]; !ok {
			s.mu.Unlock()
			return hwerr.Newf(hwerr.NotFound, "link %d not found in session %s", link, h)
		}
		info.LinkHandles[n] = link
	}
	info.SessionHandle = s.kmdHandle
	s.mu.Unlock()

	if err := i.managerCall(kmd.OpLinkControl, info); err != nil {
		return err
	}

	s.mu.Lock()
	for _, link := range links {
		if l := s.links[link]; l != nil {
			l.Paused = op == LinkDeactivate
		}
	}
	s.mu.Unlock()

	i.logger.Debug("Link control", "session", h.String(), "op", op.String(), "links", len(links))
	return nil
}
