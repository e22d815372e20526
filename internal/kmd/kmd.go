// Package kmd is the boundary to the privileged camera driver.
//
// Every operation becomes one fixed-shape control call (opcode, size, handle
// type, handle) carrying a typed payload. Payload layouts are the wire
// format; they are encoded with the host's native byte order and handed to
// the driver through a single VIDIOC_CAM_CONTROL ioctl. Asynchronous driver
// events arrive through the V4L2 event queue of each device node.
package kmd

import (
	"encoding"
	"fmt"
)

// Opcode selects the driver operation.
type Opcode uint32

// Device opcodes.
const (
	OpQueryCap Opcode = 0x101 + iota
	OpAcquireDev
	OpStartDev
	OpStopDev
	OpConfigDev
	OpReleaseDev
	OpFlushDev
	OpAcquireHW
	OpReleaseHW
	OpDumpDev
	OpSensorProbe
)

// Request manager opcodes.
const (
	OpCreateSession Opcode = 0x201 + iota
	OpDestroySession
	OpLink
	OpUnlink
	OpScheduleRequest
	OpFlushRequest
	OpSyncMode
	OpLinkControl
	OpDumpRequest
	OpMapBuffer
	OpReleaseBuffer
)

var opcodeNames = map[Opcode]string{
	OpQueryCap:        "query_cap",
	OpAcquireDev:      "acquire_dev",
	OpStartDev:        "start_dev",
	OpStopDev:         "stop_dev",
	OpConfigDev:       "config_dev",
	OpReleaseDev:      "release_dev",
	OpFlushDev:        "flush_dev",
	OpAcquireHW:       "acquire_hw",
	OpReleaseHW:       "release_hw",
	OpDumpDev:         "dump_dev",
	OpSensorProbe:     "sensor_probe",
	OpCreateSession:   "create_session",
	OpDestroySession:  "destroy_session",
	OpLink:            "link",
	OpUnlink:          "unlink",
	OpScheduleRequest: "schedule_request",
	OpFlushRequest:    "flush_request",
	OpSyncMode:        "sync_mode",
	OpLinkControl:     "link_control",
	OpDumpRequest:     "dump_request",
	OpMapBuffer:       "map_buffer",
	OpReleaseBuffer:   "release_buffer",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%#x)", uint32(o))
}

// HandleType says how the driver interprets ControlCall.Handle.
type HandleType uint32

// Handle types.
const (
	HandleUserPointer HandleType = 1
	HandleMemHandle   HandleType = 2
)

// Payload is a typed control-call body.
type Payload interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// ControlCall is one request to the driver.
// When Payload is nil, Handle is passed through verbatim.
type ControlCall struct {
	Opcode     Opcode
	HandleType HandleType
	Handle     uint64
	Payload    Payload
}

// EventKind identifies an asynchronous driver event.
type EventKind uint32

// Event kinds.
const (
	EventSOF EventKind = iota
	EventError
	EventSOFBootTS
	EventFrameDone
)

func (k EventKind) String() string {
	switch k {
	case EventSOF:
		return "sof"
	case EventError:
		return "error"
	case EventSOFBootTS:
		return "sof_boot_ts"
	case EventFrameDone:
		return "frame_done"
	default:
		return fmt.Sprintf("event(%d)", uint32(k))
	}
}

// ErrorType classifies EventError payloads.
type ErrorType uint32

// Driver error types.
const (
	ErrorDevice ErrorType = iota + 1
	ErrorRequest
	ErrorBuffer
	ErrorRecovery
	ErrorSOFFreeze
)

func (t ErrorType) String() string {
	switch t {
	case ErrorDevice:
		return "device"
	case ErrorRequest:
		return "request"
	case ErrorBuffer:
		return "buffer"
	case ErrorRecovery:
		return "recovery"
	case ErrorSOFFreeze:
		return "sof_freeze"
	default:
		return fmt.Sprintf("error(%d)", uint32(t))
	}
}

// Event is one dequeued driver event.
type Event struct {
	Kind          EventKind
	SessionHandle int32
	LinkHandle    int32
	DeviceHandle  int32
	RequestID     int64
	FrameID       uint64
	Timestamp     uint64
	ErrorType     ErrorType
	Sequence      uint32
}

// Driver issues control calls and event operations on device nodes.
type Driver interface {
	Open(path string) (int, error)
	Close(fd int) error
	Control(fd int, call *ControlCall) error
	Subscribe(fd int, kind EventKind) error
	Dequeue(fd int) (Event, error)
}
