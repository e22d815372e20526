//go:build linux && (amd64 || arm64)

package kmd

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camhw/internal/hwerr"
)

func TestDequeueError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want hwerr.Code
	}{
		{"empty queue", unix.ENOENT, hwerr.NoMore},
		{"would block", unix.EAGAIN, hwerr.NoMore},
		{"bad argument", unix.EINVAL, hwerr.InvalidArgument},
		{"not a v4l2 node", unix.ENOTTY, hwerr.Unsupported},
		{"io error", unix.EIO, hwerr.Failed},
		{"not an errno", errors.New("short read"), hwerr.Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hwerr.CodeOf(dequeueError(tt.err)); got != tt.want {
				t.Errorf("dequeueError(%v) code = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromErrno(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  hwerr.Code
	}{
		{unix.ENOMEM, hwerr.NoMemory},
		{unix.ETIMEDOUT, hwerr.Timeout},
		{unix.EBUSY, hwerr.Busy},
		{unix.EFAULT, hwerr.InvalidArgument},
		{unix.EOPNOTSUPP, hwerr.Unsupported},
		{unix.EPERM, hwerr.Failed},
	}

	for _, tt := range tests {
		err := fromErrno("control", tt.errno)
		if got := hwerr.CodeOf(err); got != tt.want {
			t.Errorf("fromErrno(%v) code = %s, want %s", tt.errno, got, tt.want)
		}
		if !errors.Is(err, tt.errno) {
			t.Errorf("fromErrno(%v) does not wrap the errno", tt.errno)
		}
	}
}
