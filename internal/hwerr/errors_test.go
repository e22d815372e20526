package hwerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"direct", New(Busy, "link active"), Busy},
		{"wrapped", fmt.Errorf("stream on: %w", New(Timeout, "poll")), Timeout},
		{"foreign", errors.New("boom"), Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("acquire: %w", Newf(OutOfBounds, "session table full (%d)", 4))
	if !errors.Is(err, New(OutOfBounds, "")) {
		t.Error("expected errors.Is to match by code")
	}
	if errors.Is(err, New(NoMore, "")) {
		t.Error("expected errors.Is not to match a different code")
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("EINVAL")
	err := Wrap(Failed, "start device", cause)

	if got := err.Error(); got != "[FAILED] start device: EINVAL" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if !err.HasCode(Failed) || err.HasCode(Busy) {
		t.Error("HasCode mismatch")
	}
	if !IsCode(err, Failed) || IsCode(nil, Failed) {
		t.Error("IsCode mismatch")
	}
}
