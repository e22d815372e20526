//go:build linux && (amd64 || arm64)

package kmd

import (
	"errors"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camhw/internal/hwerr"
)

// Linux issues control calls to camera device nodes through ioctl.
type Linux struct{}

// NewLinux returns the kernel-backed driver.
func NewLinux() *Linux {
	return &Linux{}
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

// Open opens a device node non-blocking.
func (*Linux) Open(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, hwerr.Wrap(hwerr.Failed, "open "+path, err)
	}
	return fd, nil
}

// Close closes a device node.
func (*Linux) Close(fd int) error {
	return unix.Close(fd)
}

// Control issues one VIDIOC_CAM_CONTROL ioctl.
func (*Linux) Control(fd int, call *ControlCall) error {
	ctl := camControl{
		OpCode:     uint32(call.Opcode),
		HandleType: uint32(call.HandleType),
		Handle:     call.Handle,
	}

	var buf []byte
	if call.Payload != nil {
		var err error
		if buf, err = call.Payload.MarshalBinary(); err != nil {
			return hwerr.Wrap(hwerr.InvalidArgument, "encode "+call.Opcode.String(), err)
		}
		ctl.Size = uint32(len(buf))
		ctl.Handle = addressOf(buf)
	}

	err := ioctl(fd, vidiocCamControl, unsafe.Pointer(&ctl))
	runtime.KeepAlive(buf)
	runtime.KeepAlive(call.Payload)
	if err != nil {
		return fromErrno(call.Opcode.String(), err)
	}

	if call.Payload != nil {
		if err := call.Payload.UnmarshalBinary(buf); err != nil {
			return hwerr.Wrap(hwerr.Failed, "decode "+call.Opcode.String(), err)
		}
	}
	return nil
}

// Subscribe subscribes fd to one request manager event kind.
func (*Linux) Subscribe(fd int, kind EventKind) error {
	sub := v4l2EventSubscription{Type: eventTypeReqMgr, ID: uint32(kind)}
	if err := ioctl(fd, vidiocSubscribeEvent, unsafe.Pointer(&sub)); err != nil {
		return fromErrno("subscribe "+kind.String(), err)
	}
	return nil
}

// Dequeue pops one pending event from fd.
func (*Linux) Dequeue(fd int) (Event, error) {
	var ev v4l2Event
	if err := ioctl(fd, vidiocDqevent, unsafe.Pointer(&ev)); err != nil {
		return Event{}, dequeueError(err)
	}

	var msg reqMgrMessage
	if err := decode(ev.U[:], &msg); err != nil {
		return Event{}, hwerr.Wrap(hwerr.Failed, "decode event", err)
	}

	return Event{
		Kind:          EventKind(ev.ID),
		SessionHandle: msg.SessionHandle,
		LinkHandle:    msg.LinkHandle,
		DeviceHandle:  msg.DeviceHandle,
		RequestID:     msg.RequestID,
		FrameID:       msg.FrameID,
		Timestamp:     msg.Timestamp,
		ErrorType:     ErrorType(msg.ErrorType),
		Sequence:      ev.Sequence,
	}, nil
}

// dequeueError maps a failed VIDIOC_DQEVENT. The kernel answers ENOENT when
// the event queue is empty.
func dequeueError(err error) error {
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EAGAIN) {
		return hwerr.Wrap(hwerr.NoMore, "dqevent", err)
	}
	return fromErrno("dqevent", err)
}

func fromErrno(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return hwerr.Wrap(hwerr.Failed, op, err)
	}
	switch errno {
	case unix.ENOMEM:
		return hwerr.Wrap(hwerr.NoMemory, op, err)
	case unix.ETIMEDOUT:
		return hwerr.Wrap(hwerr.Timeout, op, err)
	case unix.EBUSY:
		return hwerr.Wrap(hwerr.Busy, op, err)
	case unix.EINVAL, unix.EFAULT:
		return hwerr.Wrap(hwerr.InvalidArgument, op, err)
	case unix.ENOTTY, unix.EOPNOTSUPP:
		return hwerr.Wrap(hwerr.Unsupported, op, err)
	default:
		return hwerr.Wrap(hwerr.Failed, op, err)
	}
}
