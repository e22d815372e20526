//go:build !linux || !(amd64 || arm64)

package kmd

import "github.com/smazurov/camhw/internal/hwerr"

// Linux is unavailable on this platform; every call fails with Unsupported.
type Linux struct{}

// NewLinux returns a driver that rejects every call.
func NewLinux() *Linux {
	return &Linux{}
}

func unsupported() error {
	return hwerr.New(hwerr.Unsupported, "camera driver requires linux on a 64-bit architecture")
}

// Open implements Driver.
func (*Linux) Open(string) (int, error) { return -1, unsupported() }

// Close implements Driver.
func (*Linux) Close(int) error { return unsupported() }

// Control implements Driver.
func (*Linux) Control(int, *ControlCall) error { return unsupported() }

// Subscribe implements Driver.
func (*Linux) Subscribe(int, EventKind) error { return unsupported() }

// Dequeue implements Driver.
func (*Linux) Dequeue(int) (Event, error) { return Event{}, unsupported() }
