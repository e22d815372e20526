//go:build linux

package hotplug

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newMonitor(t *testing.T, subsystems ...string) *Monitor {
	t.Helper()
	m, err := NewMonitor(subsystems...)
	if err != nil {
		t.Skipf("netlink uevent socket unavailable: %v", err)
	}
	return m
}

func TestMonitorClose(t *testing.T) {
	m := newMonitor(t)
	if err := m.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := m.Close(); err == nil {
		t.Error("expected error on second Close()")
	}
}

func TestMonitorFilter(t *testing.T) {
	m := newMonitor(t)
	defer m.Close()

	if !m.accepts("usb") {
		t.Error("monitor without filters should accept everything")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.AddSubsystem(SubsystemVideo4Linux)
			}
		}()
	}
	wg.Wait()

	if !m.accepts(SubsystemVideo4Linux) || m.accepts("usb") {
		t.Error("filter not applied")
	}
}

func TestMonitorRunCancellation(t *testing.T) {
	m := newMonitor(t, SubsystemVideo4Linux)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	events := make(chan Event, 1)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, events) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Run = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Run closes the channel on return.
	for range events {
	}
}
