package events

// Event type constants for kelindar/event.
const (
	TypeDeviceDiscovery uint32 = iota + 1
	TypeDeviceError
	TypeFrame
	TypeSessionState
	TypeFlush
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceDiscoveryEvent is published when a device node is added to or
// removed from the registry.
type DeviceDiscoveryEvent struct {
	Index     string `json:"index" example:"0x10001" doc:"Registry handle of the device"`
	Path      string `json:"path" example:"/dev/video3" doc:"Device node path"`
	Name      string `json:"name" example:"cam-sensor0" doc:"Driver entity name"`
	Family    string `json:"family" example:"sensor" doc:"Hardware family"`
	Action    string `json:"action" example:"added" doc:"Action type: added, removed, promoted"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// DeviceErrorEvent carries an error reported by the driver.
type DeviceErrorEvent struct {
	Session   string `json:"session" example:"0x10001" doc:"Session handle"`
	Link      int32  `json:"link" doc:"Link handle"`
	Device    int32  `json:"device" doc:"Device handle"`
	RequestID int64  `json:"request_id" doc:"Request the error applies to"`
	ErrorType string `json:"error_type" example:"request" doc:"Driver error class"`
	Flushed   bool   `json:"flushed" doc:"Whether the request was aborted by a flush"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceErrorEvent.
func (e DeviceErrorEvent) Type() uint32 { return TypeDeviceError }

// FrameEvent is a start-of-frame or frame-done notification.
type FrameEvent struct {
	Session   string `json:"session" example:"0x10001" doc:"Session handle"`
	Link      int32  `json:"link" doc:"Link handle"`
	Kind      string `json:"kind" example:"sof" doc:"Event kind"`
	RequestID int64  `json:"request_id" doc:"Request that produced the frame"`
	FrameID   uint64 `json:"frame_id" doc:"Driver frame counter"`
	SensorTS  uint64 `json:"sensor_ts" doc:"Sensor timestamp in nanoseconds"`
}

// Type returns the event type identifier for FrameEvent.
func (e FrameEvent) Type() uint32 { return TypeFrame }

// SessionStateEvent is published when a session changes lifecycle state.
type SessionStateEvent struct {
	Session   string `json:"session" example:"0x10001" doc:"Session handle"`
	From      string `json:"from" example:"valid" doc:"Previous state"`
	To        string `json:"to" example:"flush" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateEvent.
func (e SessionStateEvent) Type() uint32 { return TypeSessionState }

// FlushEvent is published when a cancel or flush completes.
type FlushEvent struct {
	Session   string `json:"session" example:"0x10001" doc:"Session handle"`
	Link      int32  `json:"link" doc:"Link handle"`
	Kind      string `json:"kind" example:"all" doc:"Flush kind: all, cancel_request"`
	RequestID int64  `json:"request_id" doc:"Cancelled request"`
	Error     string `json:"error,omitempty" doc:"Failure, if the flush was rejected"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FlushEvent.
func (e FlushEvent) Type() uint32 { return TypeFlush }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"registry" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
