package api

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/tethernode/internal/api/models"
	"github.com/smazurov/tethernode/internal/library"
)

// imageToAPI converts a library entry to its API shape.
func imageToAPI(img library.Image) models.ImageData {
	data := models.ImageData{
		Name:       img.Name,
		Size:       img.Size,
		CapturedAt: img.CapturedAt.Format(time.RFC3339),
		URL:        "/api/images/" + img.Name,
	}
	if img.Thumbnail {
		data.ThumbnailURL = "/api/thumbnails/" + img.Name
	}
	return data
}

// registerImageRoutes sets up the image library endpoints. Raw file bytes
// are served straight off the mux; only the listing goes through Huma.
func (s *Server) registerImageRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-images",
		Method:      http.MethodGet,
		Path:        "/api/images",
		Summary:     "List images",
		Description: "List captured images, newest first",
		Tags:        []string{"images"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.ImagesResponse, error) {
		images, err := s.library.List()
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list images", err)
		}

		apiImages := make([]models.ImageData, 0, len(images))
		for _, img := range images {
			apiImages = append(apiImages, imageToAPI(img))
		}
		return &models.ImagesResponse{
			Body: models.ImagesData{Images: apiImages, Count: len(apiImages)},
		}, nil
	})

	s.mux.HandleFunc("GET /api/images/{name}", func(w http.ResponseWriter, r *http.Request) {
		s.serveLibraryFile(w, r, s.library.OpenImage)
	})
	s.mux.HandleFunc("GET /api/thumbnails/{name}", func(w http.ResponseWriter, r *http.Request) {
		s.serveLibraryFile(w, r, s.library.OpenThumbnail)
	})
}

// serveLibraryFile streams one file from the library. The library rejects
// path traversal, so a failed open is reported as not found.
func (s *Server) serveLibraryFile(w http.ResponseWriter, r *http.Request, open func(string) (*os.File, error)) {
	name := r.PathValue("name")
	f, err := open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debug("Image download aborted", "name", name, "error", err)
	}
}
