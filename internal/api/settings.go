package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/tethernode/internal/api/models"
	"github.com/smazurov/tethernode/internal/events"
)

// registerSettingsRoutes sets up the runtime settings endpoints.
func (s *Server) registerSettingsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/api/settings",
		Summary:     "Settings",
		Description: "Get the current capture settings",
		Tags:        []string{"settings"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SettingsResponse, error) {
		return &models.SettingsResponse{
			Body: models.SettingsData{
				Prefix:    s.library.Prefix(),
				Rotation:  s.library.Rotation(),
				OutputDir: s.library.Dir(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-settings",
		Method:      http.MethodPut,
		Path:        "/api/settings",
		Summary:     "Update settings",
		Description: "Change the filename prefix and/or rotation used for new captures",
		Tags:        []string{"settings"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.UpdateSettingsRequest) (*models.SettingsResponse, error) {
		if input.Body.Prefix != nil {
			s.library.SetPrefix(*input.Body.Prefix)
		}
		if input.Body.Rotation != nil {
			s.library.SetRotation(*input.Body.Rotation)
		}

		// Echo the sanitized values back, not the raw input.
		prefix := s.library.Prefix()
		rotation := s.library.Rotation()
		if s.eventBus != nil {
			s.eventBus.Publish(events.SettingsChangedEvent{
				Prefix:    prefix,
				Rotation:  rotation,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}

		return &models.SettingsResponse{
			Body: models.SettingsData{
				Prefix:    prefix,
				Rotation:  rotation,
				OutputDir: s.library.Dir(),
			},
		}, nil
	})
}
