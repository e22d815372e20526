// Package metrics provides Prometheus metrics for the camera hardware layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/camhw/internal/hwerr"
)

const namespace = "camhw"

var (
	driverCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "driver",
		Name:      "calls_total",
		Help:      "Control calls issued to the driver",
	}, []string{"family", "opcode", "result"})

	devicesRegistered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "devices",
		Help:      "Devices currently registered, by family",
	}, []string{"family"})

	sensorSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "sensor_slots",
		Help:      "Sensor slot candidates waiting for a probe",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "sessions",
		Help:      "Open sessions",
	})

	linksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "links",
		Help:      "Links across all sessions",
	})

	streamTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "transitions_total",
		Help:      "Per-device stream transitions, by direction and outcome",
	}, []string{"family", "direction", "outcome"})

	requestsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "request",
		Name:      "scheduled_total",
		Help:      "Schedule request calls, by result",
	}, []string{"result"})

	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "request",
		Name:      "flushes_total",
		Help:      "Cancel and flush operations, by kind",
	}, []string{"kind"})

	driverEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "driver",
		Name:      "events_total",
		Help:      "Asynchronous driver events dequeued",
	}, []string{"kind"})

	hotplugEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hotplug",
		Name:      "events_total",
		Help:      "Kernel add/remove notifications for camera nodes, by result",
	}, []string{"action", "result"})

	// Local cache for the status API.
	familyCache   = make(map[string]float64)
	familyCacheMu sync.RWMutex
)

// Stream directions and outcomes.
const (
	DirectionOn  = "on"
	DirectionOff = "off"

	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(hwerr.CodeOf(err))
}

// ObserveDriverCall counts one control call and its result code.
func ObserveDriverCall(family, opcode string, err error) {
	driverCalls.WithLabelValues(family, opcode, resultLabel(err)).Inc()
}

// DeviceAdded records a newly registered device.
func DeviceAdded(family string) {
	devicesRegistered.WithLabelValues(family).Inc()
	familyCacheMu.Lock()
	familyCache[family]++
	familyCacheMu.Unlock()
}

// DeviceRemoved records a removed device.
func DeviceRemoved(family string) {
	devicesRegistered.WithLabelValues(family).Dec()
	familyCacheMu.Lock()
	if familyCache[family] <= 1 {
		delete(familyCache, family)
	} else {
		familyCache[family]--
	}
	familyCacheMu.Unlock()
}

// DevicesByFamily returns the registered device count per family.
func DevicesByFamily() map[string]float64 {
	familyCacheMu.RLock()
	defer familyCacheMu.RUnlock()
	result := make(map[string]float64, len(familyCache))
	for k, v := range familyCache {
		result[k] = v
	}
	return result
}

// SetSensorSlots sets the number of staged sensor slots.
func SetSensorSlots(n int) {
	sensorSlots.Set(float64(n))
}

// SetSessions sets the number of open sessions.
func SetSessions(n int) {
	sessionsActive.Set(float64(n))
}

// AddLinks adjusts the link gauge by delta.
func AddLinks(delta int) {
	linksActive.Add(float64(delta))
}

// ObserveStreamTransition counts one device stream on/off.
func ObserveStreamTransition(family, direction, outcome string) {
	streamTransitions.WithLabelValues(family, direction, outcome).Inc()
}

// ObserveSchedule counts one schedule request attempt.
func ObserveSchedule(err error) {
	requestsScheduled.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveFlush counts one cancel or flush.
func ObserveFlush(kind string) {
	flushes.WithLabelValues(kind).Inc()
}

// ObserveEvent counts one dequeued driver event.
func ObserveEvent(kind string) {
	driverEvents.WithLabelValues(kind).Inc()
}

// ObserveHotplug counts one handled uevent.
func ObserveHotplug(action string, err error) {
	hotplugEvents.WithLabelValues(action, resultLabel(err)).Inc()
}
