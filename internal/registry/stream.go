package registry

import (
	"cmp"
	"slices"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/metrics"
)

type direction int

const (
	streamOn direction = iota
	streamOff
)

func (d direction) String() string {
	if d == streamOn {
		return metrics.DirectionOn
	}
	return metrics.DirectionOff
}

// StreamOn starts devices in stream-on order. With a link and no explicit
// devices, the link's devices are used. On success the link becomes active.
// The first failing device aborts the sequence; devices already started
// stay started.
func (i *Instance) StreamOn(h arena.Handle, link int32, devices []int32, mode hwdev.DeactivateMode) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()
	return i.stream(s, link, devices, mode, streamOn)
}

// StreamOff stops devices in stream-off order and marks the link inactive.
func (i *Instance) StreamOff(h arena.Handle, link int32, devices []int32, mode hwdev.DeactivateMode) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()
	return i.streamOff(s, link, devices, mode)
}

func (i *Instance) streamOff(s *Session, link int32, devices []int32, mode hwdev.DeactivateMode) error {
	return i.stream(s, link, devices, mode, streamOff)
}

// orderedLeases resolves handles against s and sorts them stably by the
// devices' current priority for dir.
func (i *Instance) orderedLeases(s *Session, link int32, devices []int32, dir direction) ([]*AcquiredDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link != 0 {
		l, ok := s.links[link]
		if !ok {
			return nil, hwerr.Newf(hwerr.NotFound, "link %d not found in session %s", link, s.handle)
		}
		if len(devices) == 0 {
			devices = l.Devices
		}
	}
	if len(devices) == 0 {
		return nil, hwerr.New(hwerr.InvalidArgument, "no devices to stream")
	}

	leases := make([]*AcquiredDevice, 0, len(devices))
	for _, handle := range devices {
		a, ok := s.acquired[handle]
		if !ok {
			return nil, hwerr.Newf(hwerr.InvalidArgument, "device handle %d not acquired by session %s", handle, s.handle)
		}
		leases = append(leases, a)
	}

	priority := func(a *AcquiredDevice) int {
		on, off := a.dev.Orders()
		if dir == streamOn {
			return on
		}
		return off
	}
	slices.SortStableFunc(leases, func(a, b *AcquiredDevice) int {
		return cmp.Compare(priority(a), priority(b))
	})
	return leases, nil
}

func (i *Instance) stream(s *Session, link int32, devices []int32, mode hwdev.DeactivateMode, dir direction) error {
	leases, err := i.orderedLeases(s, link, devices, dir)
	if err != nil {
		return err
	}

	kmdHandle := s.driverHandle()
	for _, a := range leases {
		if !a.dev.CanStream() {
			continue
		}
		if err := i.streamOne(a, kmdHandle, mode, dir); err != nil {
			return err
		}
	}

	if link != 0 {
		s.mu.Lock()
		if l := s.links[link]; l != nil {
			l.Active = dir == streamOn
		}
		s.mu.Unlock()
	}

	i.logger.Debug("Stream transition complete",
		"session", s.handle.String(), "link", link, "direction", dir.String(), "devices", len(leases), "mode", mode)
	return nil
}

func (i *Instance) streamOne(a *AcquiredDevice, kmdHandle int32, mode hwdev.DeactivateMode, dir direction) error {
	var (
		moved bool
		err   error
	)
	if dir == streamOn {
		moved, err = a.dev.StreamOn(kmdHandle, a.Handle, mode)
	} else {
		moved, err = a.dev.StreamOff(kmdHandle, a.Handle, mode)
	}

	family := a.Type.String()
	switch {
	case err != nil:
		metrics.ObserveStreamTransition(family, dir.String(), metrics.OutcomeFailed)
		i.logger.Warn("Stream transition failed",
			"device", a.dev.Path(), "handle", a.Handle, "direction", dir.String(), "error", err)
		return err
	case !moved:
		metrics.ObserveStreamTransition(family, dir.String(), metrics.OutcomeSkipped)
	default:
		metrics.ObserveStreamTransition(family, dir.String(), metrics.OutcomeOK)
	}
	return nil
}

// SingleDeviceStreamOn starts one device outside of link ordering.
func (i *Instance) SingleDeviceStreamOn(h arena.Handle, handle int32, mode hwdev.DeactivateMode) error {
	return i.singleDevice(h, handle, mode, streamOn)
}

// SingleDeviceStreamOff stops one device outside of link ordering.
func (i *Instance) SingleDeviceStreamOff(h arena.Handle, handle int32, mode hwdev.DeactivateMode) error {
	return i.singleDevice(h, handle, mode, streamOff)
}

func (i *Instance) singleDevice(h arena.Handle, handle int32, mode hwdev.DeactivateMode, dir direction) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	a, err := s.lease(handle)
	if err != nil {
		return err
	}
	if !a.dev.CanStream() {
		return hwerr.Newf(hwerr.Unsupported, "%s family does not stream", a.Type)
	}
	return i.streamOne(a, s.driverHandle(), mode, dir)
}
