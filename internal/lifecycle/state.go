// Package lifecycle provides the state machine and reference counting shared
// by the registry instance, devices and sessions.
//
// Every stateful entity owns one Tracker. Operations that touch the entity
// bracket themselves with Acquire/Release; the destroying thread moves the
// entity to StateDestroying and then blocks in WaitForZero until the last
// in-flight operation has released its reference.
//
// State transitions:
//
//	Invalid -> Valid
//	Valid   -> Flush | Error | Destroying
//	Flush   -> Valid | Error | Destroying
//	Error   -> Destroying
//
// Error is sticky: the only way out is teardown followed by recreation.
package lifecycle

// State represents the lifecycle state of an entity.
type State string

// Lifecycle states.
const (
	StateInvalid    State = "invalid"    // Allocated, not yet usable
	StateValid      State = "valid"      // Usable
	StateFlush      State = "flush"      // Usable, flush in progress
	StateError      State = "error"      // Failed, awaiting teardown
	StateDestroying State = "destroying" // Teardown in progress
)

var transitions = map[State][]State{
	StateInvalid: {StateValid, StateDestroying},
	StateValid:   {StateFlush, StateError, StateDestroying},
	StateFlush:   {StateValid, StateError, StateDestroying},
	StateError:   {StateDestroying},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Usable reports whether operations may take a reference in this state.
func (s State) Usable() bool {
	return s == StateValid || s == StateFlush
}
