package hotplug

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/camhw/internal/metrics"
)

// Source produces uevents until ctx ends, closing events on return.
// *Monitor is the production source.
type Source interface {
	Run(ctx context.Context, events chan<- Event) error
}

// Target receives camera node add/remove notifications.
// *registry.Instance satisfies it.
type Target interface {
	HandleHotplug(action, node string) error
}

// Watch forwards camera node add/remove events from src to target until ctx
// is cancelled. Target errors are logged and counted, never fatal.
func Watch(ctx context.Context, src Source, target Target, logger *slog.Logger) error {
	events := make(chan Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, events) }()

	for ev := range events {
		if !ev.IsCameraNode() {
			continue
		}
		if ev.Action != ActionAdd && ev.Action != ActionRemove {
			continue
		}

		err := target.HandleHotplug(ev.Action, ev.DevName)
		metrics.ObserveHotplug(ev.Action, err)
		if err != nil {
			logger.Warn("Hotplug event not applied", "action", ev.Action, "node", ev.DevName, "error", err)
			continue
		}
		logger.Debug("Hotplug event applied", "action", ev.Action, "node", ev.DevName, "kobj", ev.KObj)
	}

	err := <-errc
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
