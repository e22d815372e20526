//go:build linux && (amd64 || arm64)

package kmd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions against the kernel ABI.
var (
	_ [24]byte  = [unsafe.Sizeof(camControl{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2EventSubscription{})]byte{}
	_ [136]byte = [unsafe.Sizeof(v4l2Event{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(reqMgrMessage{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocCamControl       = 0xc01856c0 // _IOWR('V', BASE_VIDIOC_PRIVATE, struct cam_control)
	vidiocSubscribeEvent   = 0x4020565a
	vidiocUnsubscribeEvent = 0x4020565b
	vidiocDqevent          = 0x80885659
)

// v4l2EventPrivateStart is V4L2_EVENT_PRIVATE_START.
const v4l2EventPrivateStart = 0x08000000

// eventTypeReqMgr carries request manager messages.
const eventTypeReqMgr = v4l2EventPrivateStart + 0

// camControl has size 24 bytes.
type camControl struct {
	OpCode     uint32 // offset 0
	Size       uint32 // offset 4
	HandleType uint32 // offset 8
	Reserved   uint32 // offset 12
	Handle     uint64 // offset 16
}

// v4l2EventSubscription has size 32 bytes.
type v4l2EventSubscription struct {
	Type     uint32
	ID       uint32
	Flags    uint32
	Reserved [5]uint32
}

// v4l2Event has size 136 bytes.
type v4l2Event struct {
	Type      uint32        // offset 0
	_         [4]byte       // padding
	U         [64]byte      // offset 8, carries reqMgrMessage
	Pending   uint32        // offset 72
	Sequence  uint32        // offset 76
	Timestamp unix.Timespec // offset 80
	ID        uint32        // offset 96
	Reserved  [8]uint32     // offset 100
}

// reqMgrMessage is the request manager event body, 48 bytes.
type reqMgrMessage struct {
	SessionHandle int32
	LinkHandle    int32
	DeviceHandle  int32
	ErrorType     uint32
	RequestID     int64
	FrameID       uint64
	Timestamp     uint64
	Reserved      uint64
}
