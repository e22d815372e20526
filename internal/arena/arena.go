// Package arena provides a fixed-capacity slot table addressed by
// generation-checked handles.
//
// A Handle packs the slot index in the low 16 bits and the slot generation
// in the high 15 bits. Every time a slot is freed its generation advances,
// so a handle kept past Remove no longer resolves instead of silently
// aliasing the next occupant. The zero Handle is never issued.
//
// Arena is not safe for concurrent use; owners guard it with their own lock.
package arena

import (
	"fmt"

	"github.com/smazurov/camhw/internal/hwerr"
)

const (
	indexBits = 16
	indexMask = 1<<indexBits - 1
	genMask   = 1<<15 - 1

	// MaxCapacity is the largest slot count a handle can address.
	MaxCapacity = indexMask + 1
)

// Handle identifies one occupied slot at one point in time.
type Handle int32

// Invalid is the zero handle.
const Invalid Handle = 0

func makeHandle(index int, gen uint32) Handle {
	return Handle(int32(gen&genMask)<<indexBits | int32(index))
}

// Index returns the slot index encoded in h.
func (h Handle) Index() int {
	return int(h) & indexMask
}

// Generation returns the slot generation encoded in h.
func (h Handle) Generation() uint32 {
	return uint32(h>>indexBits) & genMask
}

// Valid reports whether h could have been issued by an arena.
func (h Handle) Valid() bool {
	return h > 0 && h.Generation() != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index(), h.Generation())
}

type slot[T any] struct {
	value    T
	gen      uint32
	occupied bool
}

// Arena is a fixed-size table of T addressed by Handle.
type Arena[T any] struct {
	slots []slot[T]
	count int
}

// New creates an arena with the given capacity.
func New[T any](capacity int) *Arena[T] {
	if capacity <= 0 || capacity > MaxCapacity {
		panic(fmt.Sprintf("arena: capacity %d out of range", capacity))
	}
	slots := make([]slot[T], capacity)
	for i := range slots {
		slots[i].gen = 1
	}
	return &Arena[T]{slots: slots}
}

// Insert places v in the lowest free slot.
// It returns an OutOfBounds error when every slot is occupied.
func (a *Arena[T]) Insert(v T) (Handle, error) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.occupied {
			continue
		}
		s.value = v
		s.occupied = true
		a.count++
		return makeHandle(i, s.gen), nil
	}
	return Invalid, hwerr.Newf(hwerr.OutOfBounds, "arena full (%d slots)", len(a.slots))
}

// Peek returns the handle Insert would issue next without occupying it.
func (a *Arena[T]) Peek() (Handle, bool) {
	for i := range a.slots {
		if !a.slots[i].occupied {
			return makeHandle(i, a.slots[i].gen), true
		}
	}
	return Invalid, false
}

// Get resolves h. Stale or out-of-range handles report false.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	s := a.lookup(h)
	if s == nil {
		return zero, false
	}
	return s.value, true
}

// Remove frees the slot addressed by h and returns its value.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := a.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.occupied = false
	s.gen++
	if s.gen&genMask == 0 {
		s.gen = 1
	}
	a.count--
	return v, true
}

// Len returns the number of occupied slots.
func (a *Arena[T]) Len() int {
	return a.count
}

// Cap returns the slot capacity.
func (a *Arena[T]) Cap() int {
	return len(a.slots)
}

// Each calls fn for every occupied slot in index order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(makeHandle(i, s.gen), s.value) {
			return
		}
	}
}

func (a *Arena[T]) lookup(h Handle) *slot[T] {
	if !h.Valid() {
		return nil
	}
	idx := h.Index()
	if idx >= len(a.slots) {
		return nil
	}
	s := &a.slots[idx]
	if !s.occupied || s.gen&genMask != h.Generation() {
		return nil
	}
	return s
}
