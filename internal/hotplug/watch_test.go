package hotplug

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/smazurov/camhw/internal/hwerr"
)

type sliceSource struct {
	events []Event
	err    error
}

func (s sliceSource) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)
	for _, ev := range s.events {
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type recordingTarget struct {
	calls []string
	fail  map[string]error
}

func (r *recordingTarget) HandleHotplug(action, node string) error {
	r.calls = append(r.calls, action+":"+node)
	return r.fail[node]
}

func v4l(action, name string) Event {
	return Event{Action: action, Subsystem: SubsystemVideo4Linux, DevName: name}
}

func TestWatchForwardsCameraNodes(t *testing.T) {
	src := sliceSource{events: []Event{
		v4l(ActionAdd, "video2"),
		{Action: ActionAdd, Subsystem: "sound", DevName: "snd/controlC0"},
		v4l(ActionChange, "video2"),
		v4l(ActionAdd, "v4l-subdev5"),
		v4l(ActionRemove, "video2"),
	}}
	target := &recordingTarget{}

	if err := Watch(context.Background(), src, target, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Watch = %v", err)
	}

	want := []string{"add:video2", "add:v4l-subdev5", "remove:video2"}
	if !slices.Equal(target.calls, want) {
		t.Errorf("calls = %v, want %v", target.calls, want)
	}
}

func TestWatchSurvivesTargetErrors(t *testing.T) {
	src := sliceSource{events: []Event{v4l(ActionRemove, "video1"), v4l(ActionAdd, "video4")}}
	target := &recordingTarget{fail: map[string]error{"video1": hwerr.New(hwerr.Busy, "leased")}}

	if err := Watch(context.Background(), src, target, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Watch = %v", err)
	}
	if len(target.calls) != 2 {
		t.Errorf("calls = %v, want both events applied", target.calls)
	}
}

func TestWatchReturnsSourceError(t *testing.T) {
	boom := errors.New("socket closed")
	err := Watch(context.Background(), sliceSource{err: boom}, &recordingTarget{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, boom) {
		t.Errorf("Watch = %v, want %v", err, boom)
	}

	err = Watch(context.Background(), sliceSource{err: context.Canceled}, &recordingTarget{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Errorf("cancellation should not be reported, got %v", err)
	}
}
