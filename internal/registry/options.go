package registry

import (
	"time"

	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/kmd"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultMaxDevices          = 64
	DefaultMaxSessions         = 16
	DefaultMaxLinks            = 8
	DefaultSysfsClassDir       = "/sys/class/video4linux"
	DefaultDevDir              = "/dev"
	DefaultPollShutdownTimeout = time.Second
)

// Options configures an Instance.
type Options struct {
	Driver   kmd.Driver
	Families *hwdev.Table // nil selects hwdev.DefaultTable

	MaxDevices  int
	MaxSessions int
	MaxLinks    int // per session

	SysfsClassDir string
	DevDir        string

	PollShutdownTimeout time.Duration
	EagerCaps           bool // query capabilities when a device is added

	Events  *events.Bus
	Buffers BufferRegistry // nil selects an in-memory table
}

func (o *Options) applyDefaults() error {
	if o.Driver == nil {
		return hwerr.New(hwerr.InvalidArgument, "registry requires a driver")
	}
	if o.Families == nil {
		o.Families = hwdev.DefaultTable()
	}
	if o.MaxDevices == 0 {
		o.MaxDevices = DefaultMaxDevices
	}
	if o.MaxSessions == 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.MaxLinks == 0 {
		o.MaxLinks = DefaultMaxLinks
	}
	if o.MaxDevices < 0 || o.MaxSessions < 0 || o.MaxLinks < 0 {
		return hwerr.New(hwerr.InvalidArgument, "registry limits must be positive")
	}
	if o.SysfsClassDir == "" {
		o.SysfsClassDir = DefaultSysfsClassDir
	}
	if o.DevDir == "" {
		o.DevDir = DefaultDevDir
	}
	if o.PollShutdownTimeout <= 0 {
		o.PollShutdownTimeout = DefaultPollShutdownTimeout
	}
	if o.Buffers == nil {
		o.Buffers = NewBufferTable()
	}
	return nil
}
