package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camhw/internal/events"
)

// registerSSERoutes registers the registry event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event Stream",
		Description: "Device discovery, driver errors, session state changes, flushes and frames",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"device-discovery": events.DeviceDiscoveryEvent{},
		"device-error":     events.DeviceErrorEvent{},
		"session-state":    events.SessionStateEvent{},
		"flush":            events.FlushEvent{},
		"frame":            events.FrameEvent{},
	}, func(ctx context.Context, input *struct {
		Frames bool `query:"frames" doc:"Include per-frame events"`
	}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.DeviceDiscoveryEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FlushEvent](s.eventBus, eventCh),
		}
		if input.Frames {
			unsubscribers = append(unsubscribers, events.SubscribeToChannel[events.FrameEvent](s.eventBus, eventCh))
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
