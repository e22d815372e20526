package hwdev

// Stream ordering is a hardware invariant: the receiver must be live before
// the front end is told to stream, and the sensor must stop producing
// frames before anything downstream is stopped. Each family gets a fixed
// priority; the sequencer sorts by it and never special-cases a family.
var deviceOrder = map[Type]struct{ on, off int }{
	TypeCSIPHY:   {1, 2},
	TypeISPFront: {2, 4},
	TypeSensor:   {3, 1},
	TypeActuator: {4, 3},
	TypeOIS:      {4, 3},
	TypeFlash:    {5, 3},
	TypeEEPROM:   {6, 3},
	TypeISPBack:  {7, 5},
	TypeJPEG:     {8, 6},
	TypeFD:       {8, 6},
	TypeLRME:     {8, 6},
	TypeCustom:   {9, 7},
}

// StreamOnOrder returns the stream-on priority of a family (lower first).
func StreamOnOrder(t Type) int {
	return deviceOrder[t].on
}

// StreamOffOrder returns the stream-off priority of a family (lower first).
func StreamOffOrder(t Type) int {
	return deviceOrder[t].off
}

// DeactivateMode selects which class of devices a stream transition affects.
type DeactivateMode uint32

// Deactivate mode bits. Zero affects every streaming device.
const (
	// DeactivateSensorStandby leaves the sensor streaming in standby; only
	// the rest of the pipeline transitions.
	DeactivateSensorStandby DeactivateMode = 1 << iota
	// DeactivateRealtime limits the transition to real-time devices.
	DeactivateRealtime
	// DeactivateSensorPath limits the transition to the sensor and its receiver.
	DeactivateSensorPath
	// DeactivateUnlink marks a stream-off that precedes unlinking; every
	// device participates.
	DeactivateUnlink
)

// Participation declares how a family reacts to deactivate modes.
type Participation struct {
	Realtime   bool // part of the continuously streaming pipeline
	SensorPath bool // sensor or its physical receiver
	Standby    bool // kept running when the sensor is put in standby
}

// Participates reports whether a device with this declaration takes part in
// a transition requested with mode.
func (p Participation) Participates(mode DeactivateMode) bool {
	if mode&DeactivateSensorStandby != 0 && p.Standby {
		return false
	}
	if mode&DeactivateSensorPath != 0 && !p.SensorPath {
		return false
	}
	if mode&DeactivateRealtime != 0 && !p.Realtime {
		return false
	}
	return true
}
