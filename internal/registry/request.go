package registry

import (
	"time"

	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/metrics"
)

// SchedRequest describes a capture request to move into flight.
type SchedRequest struct {
	RequestID         int64
	Bubble            bool // the driver may retry this request
	Sync              bool
	AdditionalTimeout uint32 // milliseconds
	ExpectedExposure  time.Duration
}

// FlushRequest describes a cancel or flush.
type FlushRequest struct {
	Link         int32
	Type         kmd.FlushType
	RequestID    int64 // for kmd.FlushCancelRequest
	DeviceHandle int32 // non-zero flushes only this device
}

func (f FlushRequest) kind() string {
	if f.Type == kmd.FlushCancelRequest {
		return "cancel_request"
	}
	return "all"
}

// DumpRequest asks for diagnostics of an errored request.
type DumpRequest struct {
	RequestID    int64
	Link         int32
	DeviceHandle int32  // non-zero dumps only this device
	MemHandle    uint64 // buffer registered with MapBuffer
	Offset       uint64
	Length       uint64
	ErrorType    kmd.ErrorType
}

// Submit hands one encoded command packet to an acquired device.
func (i *Instance) Submit(h arena.Handle, handle int32, packet, offset uint64) error {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	a, err := s.lease(handle)
	if err != nil {
		return err
	}
	return a.dev.Submit(s.driverHandle(), handle, packet, offset)
}

// ScheduleRequest moves a request into flight on link. It is rejected
// while the session is flushing.
func (i *Instance) ScheduleRequest(h arena.Handle, link int32, req SchedRequest) error {
	err := i.scheduleRequest(h, link, req)
	metrics.ObserveSchedule(err)
	return err
}

func (i *Instance) scheduleRequest(h arena.Handle, link int32, req SchedRequest) error {
	if req.RequestID <= 0 {
		return hwerr.Newf(hwerr.InvalidArgument, "invalid request id %d", req.RequestID)
	}

	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	s.mu.Lock()
	if s.inFlush || s.life.State() == lifecycle.StateFlush {
		s.mu.Unlock()
		return hwerr.Newf(hwerr.InvalidState, "session %s is flushing", h)
	}
	if _, ok := s.links[link]; !ok {
		s.mu.Unlock()
		return hwerr.Newf(hwerr.NotFound, "link %d not found in session %s", link, h)
	}
	p := &kmd.ScheduleRequest{
		SessionHandle:      s.kmdHandle,
		LinkHandle:         link,
		AdditionalTimeout:  req.AdditionalTimeout,
		ExpectedExposureNs: uint64(req.ExpectedExposure.Nanoseconds()),
		RequestID:          req.RequestID,
	}
	s.mu.Unlock()

	if req.Bubble {
		p.Bubble = 1
	}
	if req.Sync {
		p.Sync = 1
	}

	if err := i.managerCall(kmd.OpScheduleRequest, p); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending[req.RequestID] = struct{}{}
	delete(s.flushed, req.RequestID)
	s.mu.Unlock()
	return nil
}

// CancelRequest cancels one request or flushes everything outstanding.
// While it runs the session is in the flush state and ScheduleRequest is
// rejected; afterwards the session returns to valid even if the driver
// refused the flush.
func (i *Instance) CancelRequest(h arena.Handle, req FlushRequest) error {
	if req.Type != kmd.FlushAll && req.Type != kmd.FlushCancelRequest {
		return hwerr.Newf(hwerr.InvalidArgument, "unknown flush type %d", req.Type)
	}
	if req.Type == kmd.FlushCancelRequest && req.RequestID <= 0 {
		return hwerr.Newf(hwerr.InvalidArgument, "cancel needs a request id, got %d", req.RequestID)
	}

	s, leave, err := i.enterSession(h)
	if err != nil {
		return err
	}
	defer leave()

	var lease *AcquiredDevice
	if req.DeviceHandle != 0 {
		if lease, err = s.lease(req.DeviceHandle); err != nil {
			return err
		}
		if !lease.dev.CanFlush() {
			return hwerr.Newf(hwerr.Unsupported, "%s family does not flush", lease.Type)
		}
	}

	if err := s.life.TransitionIf(lifecycle.StateValid, lifecycle.StateFlush); err != nil {
		return hwerr.Wrap(hwerr.Busy, "session "+h.String()+" cannot start a flush", err)
	}

	s.mu.Lock()
	s.inFlush = true
	s.savedFlush = req
	kmdHandle := s.kmdHandle
	s.mu.Unlock()

	i.logger.Debug("Flush started", "session", h.String(), "kind", req.kind(), "request_id", req.RequestID)

	if lease != nil {
		err = lease.dev.Flush(kmdHandle, req.DeviceHandle, req.Type, req.RequestID)
	} else {
		err = i.managerCall(kmd.OpFlushRequest, &kmd.FlushInfo{
			SessionHandle: kmdHandle,
			LinkHandle:    req.Link,
			FlushType:     req.Type,
			RequestID:     req.RequestID,
		})
	}

	s.mu.Lock()
	if err == nil {
		if req.Type == kmd.FlushCancelRequest {
			delete(s.pending, req.RequestID)
			s.flushed[req.RequestID] = struct{}{}
		} else {
			for id := range s.pending {
				s.flushed[id] = struct{}{}
			}
			clear(s.pending)
		}
	}
	s.inFlush = false
	s.mu.Unlock()

	if terr := s.life.TransitionIf(lifecycle.StateFlush, lifecycle.StateValid); terr != nil {
		i.logger.Warn("Session left flush state unexpectedly", "session", h.String(), "error", terr)
	}

	metrics.ObserveFlush(req.kind())
	ev := events.FlushEvent{
		Session:   h.String(),
		Link:      req.Link,
		Kind:      req.kind(),
		RequestID: req.RequestID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
		i.logger.Warn("Flush failed", "session", h.String(), "kind", req.kind(), "error", err)
	}
	i.bus.Publish(ev)
	return err
}

// WasFlushed reports whether requestID was aborted by a flush rather than
// failing on its own.
func (i *Instance) WasFlushed(h arena.Handle, requestID int64) (bool, error) {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return false, err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.flushed[requestID]
	return ok, nil
}

// InFlush reports whether a flush is in progress on session h.
func (i *Instance) InFlush(h arena.Handle) (bool, error) {
	s, leave, err := i.enterSession(h)
	if err != nil {
		return false, err
	}
	defer leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlush, nil
}

// DumpRequest writes diagnostics for an errored request into a mapped
// buffer and returns the number of bytes filled.
func (i *Instance) DumpRequest(h arena.Handle, req DumpRequest) (uint64, error) {
	if req.Length == 0 {
		return 0, hwerr.New(hwerr.InvalidArgument, "dump length is zero")
	}

	s, leave, err := i.enterSession(h)
	if err != nil {
		return 0, err
	}
	defer leave()

	buf, ok := i.buffers.GetBufferInfo(req.MemHandle)
	if !ok {
		return 0, hwerr.Newf(hwerr.NotFound, "buffer %#x is not mapped", req.MemHandle)
	}
	if req.Offset+req.Length > buf.Size || req.Offset+req.Length < req.Offset {
		return 0, hwerr.Newf(hwerr.OutOfBounds, "dump range %d+%d exceeds buffer of %d bytes", req.Offset, req.Length, buf.Size)
	}

	info := &kmd.DumpInfo{
		RequestID:     req.RequestID,
		BufferHandle:  buf.BufferHandle,
		Offset:        req.Offset,
		Length:        req.Length,
		SessionHandle: s.driverHandle(),
		LinkHandle:    req.Link,
		DeviceHandle:  req.DeviceHandle,
		ErrorType:     uint32(req.ErrorType),
	}

	if req.DeviceHandle != 0 {
		a, err := s.lease(req.DeviceHandle)
		if err != nil {
			return 0, err
		}
		err = a.dev.Dump(info)
		if err != nil {
			return 0, err
		}
	} else if err := i.managerCall(kmd.OpDumpRequest, info); err != nil {
		return 0, err
	}

	if info.Filled > req.Length {
		return 0, hwerr.Newf(hwerr.OutOfBounds, "driver filled %d bytes into a %d byte window", info.Filled, req.Length)
	}
	return info.Filled, nil
}
