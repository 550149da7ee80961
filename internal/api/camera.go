package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/tethernode/internal/api/models"
	"github.com/smazurov/tethernode/internal/camera"
	"github.com/smazurov/tethernode/internal/driver"
	"github.com/smazurov/tethernode/internal/events"
)

// commandError maps worker/driver failures onto HTTP statuses.
func commandError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, camera.ErrNotRunning):
		return huma.Error409Conflict("camera is not running", err)
	case errors.Is(err, driver.ErrDisconnected):
		return huma.Error502BadGateway("camera disconnected", err)
	case errors.Is(err, camera.ErrCaptureTimeout):
		return huma.Error504GatewayTimeout("camera did not produce an image in time", err)
	case errors.Is(err, driver.ErrKeyNotFound):
		return huma.Error501NotImplemented("camera does not support this control", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.NewError(http.StatusRequestTimeout, "client gave up waiting; the command still runs", err)
	default:
		return huma.Error500InternalServerError("camera command failed", err)
	}
}

// awaitHandle waits for a submitted command and shapes the response.
func awaitHandle(ctx context.Context, h *camera.Handle) (*models.CommandResponse, error) {
	if err := h.Wait(ctx); err != nil {
		return nil, commandError(err)
	}
	return &models.CommandResponse{
		Body: models.CommandData{
			ID:      h.ID(),
			Command: h.Name(),
			Status:  "completed",
		},
	}, nil
}

// publishStatus broadcasts the current worker snapshot to SSE clients.
func (s *Server) publishStatus() {
	if s.eventBus == nil {
		return
	}
	st := s.worker.Status()
	s.eventBus.Publish(events.CameraStatusEvent{
		State:     string(st.State),
		Model:     st.Model,
		LiveView:  st.LiveView,
		Flash:     s.flash.Load(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// registerCameraRoutes sets up camera control endpoints.
func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera-status",
		Method:      http.MethodGet,
		Path:        "/api/camera",
		Summary:     "Camera status",
		Description: "Get camera worker state, model, live view and queue depth",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.CameraStatusResponse, error) {
		st := s.worker.Status()
		return &models.CameraStatusResponse{
			Body: models.CameraStatusData{
				State:    string(st.State),
				Model:    st.Model,
				LiveView: st.LiveView,
				Flash:    s.flash.Load(),
				Pending:  st.Pending,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "capture-image",
		Method:      http.MethodPost,
		Path:        "/api/camera/capture",
		Summary:     "Capture",
		Description: "Fire the software shutter and download the resulting image. Responds after the image is saved; the saved file name arrives on the event stream.",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 502, 504},
	}, func(ctx context.Context, _ *struct{}) (*models.CommandResponse, error) {
		return awaitHandle(ctx, s.worker.Capture())
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "autofocus",
		Method:      http.MethodPost,
		Path:        "/api/camera/focus",
		Summary:     "Autofocus",
		Description: "Run the quick-mode autofocus sequence. Live view pauses for the duration.",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 501, 502},
	}, func(ctx context.Context, _ *struct{}) (*models.CommandResponse, error) {
		return awaitHandle(ctx, s.worker.Autofocus())
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-liveview",
		Method:      http.MethodPut,
		Path:        "/api/camera/liveview",
		Summary:     "Live view",
		Description: "Enable or disable the live view preview stream",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 502},
	}, func(ctx context.Context, input *models.LiveViewRequest) (*models.CommandResponse, error) {
		resp, err := awaitHandle(ctx, s.worker.SetLiveView(input.Body.Enabled))
		if err != nil {
			return nil, err
		}
		s.publishStatus()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-flash",
		Method:      http.MethodPut,
		Path:        "/api/camera/flash",
		Summary:     "Flash",
		Description: "Switch the exposure program between auto (pop-up flash fires) and flash-off",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 501, 502},
	}, func(ctx context.Context, input *models.FlashRequest) (*models.CommandResponse, error) {
		resp, err := awaitHandle(ctx, s.worker.SetFlash(input.Body.Enabled))
		if err != nil {
			return nil, err
		}
		s.flash.Store(input.Body.Enabled)
		s.publishStatus()
		return resp, nil
	})
}
