package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smazurov/camhw/internal/hwerr"
)

func TestObserveDriverCall(t *testing.T) {
	before := testutil.ToFloat64(driverCalls.WithLabelValues("test_family", "start_dev", "ok"))
	ObserveDriverCall("test_family", "start_dev", nil)
	ObserveDriverCall("test_family", "start_dev", nil)
	ObserveDriverCall("test_family", "start_dev", hwerr.New(hwerr.Busy, "busy"))

	if got := testutil.ToFloat64(driverCalls.WithLabelValues("test_family", "start_dev", "ok")); got != before+2 {
		t.Errorf("ok calls = %v, want %v", got, before+2)
	}
	if got := testutil.ToFloat64(driverCalls.WithLabelValues("test_family", "start_dev", "BUSY")); got != 1 {
		t.Errorf("busy calls = %v, want 1", got)
	}
}

func TestDeviceFamilyCache(t *testing.T) {
	family := "cache_test"

	DeviceAdded(family)
	DeviceAdded(family)
	if got := DevicesByFamily()[family]; got != 2 {
		t.Errorf("cached count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(devicesRegistered.WithLabelValues(family)); got != 2 {
		t.Errorf("gauge = %v, want 2", got)
	}

	DeviceRemoved(family)
	DeviceRemoved(family)
	if _, ok := DevicesByFamily()[family]; ok {
		t.Error("expected family to be dropped from cache")
	}

	// returned map is a copy
	DeviceAdded(family)
	m := DevicesByFamily()
	m[family] = 99
	if got := DevicesByFamily()[family]; got != 1 {
		t.Errorf("cache was modified, got %v", got)
	}
	DeviceRemoved(family)
}

func TestGauges(t *testing.T) {
	SetSessions(3)
	if got := testutil.ToFloat64(sessionsActive); got != 3 {
		t.Errorf("sessions = %v, want 3", got)
	}

	SetSensorSlots(2)
	if got := testutil.ToFloat64(sensorSlots); got != 2 {
		t.Errorf("sensor slots = %v, want 2", got)
	}

	before := testutil.ToFloat64(linksActive)
	AddLinks(2)
	AddLinks(-1)
	if got := testutil.ToFloat64(linksActive); got != before+1 {
		t.Errorf("links = %v, want %v", got, before+1)
	}
}

func TestStreamAndRequestCounters(t *testing.T) {
	ObserveStreamTransition("sensor", DirectionOn, OutcomeSkipped)
	if got := testutil.ToFloat64(streamTransitions.WithLabelValues("sensor", DirectionOn, OutcomeSkipped)); got < 1 {
		t.Errorf("stream transitions = %v, want >= 1", got)
	}

	before := testutil.ToFloat64(requestsScheduled.WithLabelValues("INVALID_STATE"))
	ObserveSchedule(hwerr.New(hwerr.InvalidState, "flushing"))
	if got := testutil.ToFloat64(requestsScheduled.WithLabelValues("INVALID_STATE")); got != before+1 {
		t.Errorf("rejected schedules = %v, want %v", got, before+1)
	}

	ObserveFlush("cancel_request")
	ObserveEvent("sof")
	if got := testutil.ToFloat64(flushes.WithLabelValues("cancel_request")); got < 1 {
		t.Errorf("flushes = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(driverEvents.WithLabelValues("sof")); got < 1 {
		t.Errorf("events = %v, want >= 1", got)
	}
}

func TestObserveHotplug(t *testing.T) {
	ObserveHotplug("remove", hwerr.New(hwerr.Busy, "leased"))
	if got := testutil.ToFloat64(hotplugEvents.WithLabelValues("remove", "BUSY")); got != 1 {
		t.Errorf("hotplug busy = %v, want 1", got)
	}
}
