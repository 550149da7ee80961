package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/tethernode/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time event stream for saved captures, camera status and settings changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"capture-saved":       events.CaptureSavedEvent{},
		"camera-status":       events.CameraStatusEvent{},
		"camera-disconnected": events.CameraDisconnectedEvent{},
		"settings-changed":    events.SettingsChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CaptureSavedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraStatusEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraDisconnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SettingsChangedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Initial snapshot so clients render without waiting for a change.
		st := s.worker.Status()
		if err := send.Data(events.CameraStatusEvent{
			State:     string(st.State),
			Model:     st.Model,
			LiveView:  st.LiveView,
			Flash:     s.flash.Load(),
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					// Connection failed, clean up and exit
					return
				}
			}
		}
	})
}
