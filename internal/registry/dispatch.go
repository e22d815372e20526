package registry

import (
	"time"

	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/metrics"
)

// dispatch drains every pending event on fd. It runs on the poll goroutine.
func (i *Instance) dispatch(fd int) {
	i.mu.RLock()
	d, ok := i.byFD[fd]
	i.mu.RUnlock()
	if !ok {
		i.logger.Debug("Event on unregistered fd", "fd", fd)
		return
	}

	for {
		ev, err := i.driver.Dequeue(fd)
		if err != nil {
			if !hwerr.IsCode(err, hwerr.NoMore) {
				i.logger.Warn("Event dequeue failed", "path", d.Path(), "error", err)
			}
			return
		}
		metrics.ObserveEvent(ev.Kind.String())
		i.deliver(ev)
	}
}

func (i *Instance) deliver(ev kmd.Event) {
	i.mu.RLock()
	s, ok := i.byKMD[ev.SessionHandle]
	i.mu.RUnlock()
	if !ok {
		i.logger.Debug("Event for unknown session", "kind", ev.Kind.String(), "session", ev.SessionHandle)
		return
	}

	msg := Message{
		Kind:      ev.Kind,
		Session:   s.handle,
		Link:      ev.LinkHandle,
		Device:    ev.DeviceHandle,
		RequestID: ev.RequestID,
		FrameID:   ev.FrameID,
		Timestamp: ev.Timestamp,
		ErrorType: ev.ErrorType,
	}

	s.mu.Lock()
	switch ev.Kind {
	case kmd.EventFrameDone:
		delete(s.pending, ev.RequestID)
	case kmd.EventError:
		delete(s.pending, ev.RequestID)
		_, msg.Flushed = s.flushed[ev.RequestID]
	}
	s.mu.Unlock()

	if s.handler != nil {
		s.handler(s.userData, msg)
	}

	session := s.handle.String()
	if ev.Kind == kmd.EventError {
		i.logger.Debug("Driver reported error",
			"session", session, "link", ev.LinkHandle, "request_id", ev.RequestID,
			"error_type", ev.ErrorType.String(), "flushed", msg.Flushed)
		i.bus.Publish(events.DeviceErrorEvent{
			Session:   session,
			Link:      ev.LinkHandle,
			Device:    ev.DeviceHandle,
			RequestID: ev.RequestID,
			ErrorType: ev.ErrorType.String(),
			Flushed:   msg.Flushed,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return
	}
	i.bus.Publish(events.FrameEvent{
		Session:   session,
		Link:      ev.LinkHandle,
		Kind:      ev.Kind.String(),
		RequestID: ev.RequestID,
		FrameID:   ev.FrameID,
		SensorTS:  ev.Timestamp,
	})
}
