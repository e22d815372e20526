//go:build !linux

package hotplug

import (
	"context"
	"errors"
)

// Monitor is unavailable without kernel netlink.
type Monitor struct{}

// NewMonitor always fails on this platform.
func NewMonitor(...string) (*Monitor, error) {
	return nil, errors.ErrUnsupported
}

// AddSubsystem is a no-op.
func (*Monitor) AddSubsystem(string) {}

// Close is a no-op.
func (*Monitor) Close() error { return nil }

// Run closes events and fails.
func (*Monitor) Run(_ context.Context, events chan<- Event) error {
	close(events)
	return errors.ErrUnsupported
}
