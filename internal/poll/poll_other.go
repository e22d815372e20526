//go:build !linux

package poll

import (
	"time"

	"github.com/smazurov/camhw/internal/hwerr"
)

// Handler is invoked on the loop goroutine when fd becomes readable.
type Handler func(fd int)

// Loop is unavailable on this platform.
type Loop struct{}

// New reports that polling is unsupported on this platform.
func New(_ Handler) (*Loop, error) {
	return nil, hwerr.New(hwerr.Unsupported, "poll loop requires linux")
}

// Start is a no-op.
func (l *Loop) Start() {}

// Add is unsupported.
func (l *Loop) Add(_ int) error { return hwerr.New(hwerr.Unsupported, "poll loop requires linux") }

// Remove is unsupported.
func (l *Loop) Remove(_ int) error { return hwerr.New(hwerr.Unsupported, "poll loop requires linux") }

// Stop is a no-op.
func (l *Loop) Stop(_ time.Duration) error { return nil }
