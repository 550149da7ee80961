// Package models holds the request/response bodies for the HTTP API.
package models

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-08-23T12:00:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go version used to build"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Camera models
type CameraStatusData struct {
	State    string `json:"state" example:"running" doc:"Worker state: running, disconnected or stopped"`
	Model    string `json:"model" example:"Canon EOS 1100D" doc:"Camera model"`
	LiveView bool   `json:"live_view" example:"true" doc:"Whether live view is streaming"`
	Flash    bool   `json:"flash" example:"false" doc:"UI-side flash toggle state"`
	Pending  int    `json:"pending" example:"0" doc:"Commands queued but not yet executed"`
}

type CameraStatusResponse struct {
	Body CameraStatusData
}

// CommandData reports the outcome of a completed camera command.
type CommandData struct {
	ID      string `json:"id" example:"7b1c0a4e-..." doc:"Command submission ID"`
	Command string `json:"command" example:"capture" doc:"Command name"`
	Status  string `json:"status" example:"completed" doc:"Command outcome"`
}

type CommandResponse struct {
	Body CommandData
}

// LiveViewRequestData toggles the live-view stream.
type LiveViewRequestData struct {
	Enabled bool `json:"enabled" example:"true" doc:"Whether live view should be on"`
}

type LiveViewRequest struct {
	Body LiveViewRequestData
}

// FlashRequestData toggles the pop-up flash exposure program.
type FlashRequestData struct {
	Enabled bool `json:"enabled" example:"false" doc:"Whether the flash should fire"`
}

type FlashRequest struct {
	Body FlashRequestData
}

// Image library models
type ImageData struct {
	Name         string `json:"name" example:"scan_2026-08-23_12-00-00.jpg" doc:"File name"`
	Size         int64  `json:"size" example:"2048576" doc:"File size in bytes"`
	CapturedAt   string `json:"captured_at" example:"2026-08-23T12:00:00Z" doc:"Capture timestamp"`
	URL          string `json:"url" example:"/api/images/scan_2026-08-23_12-00-00.jpg" doc:"Download URL"`
	ThumbnailURL string `json:"thumbnail_url,omitempty" example:"/api/thumbnails/scan_2026-08-23_12-00-00.jpg" doc:"Thumbnail URL when available"`
}

type ImagesData struct {
	Images []ImageData `json:"images" doc:"Images newest first"`
	Count  int         `json:"count" example:"12" doc:"Number of images"`
}

type ImagesResponse struct {
	Body ImagesData
}

// Settings models
type SettingsData struct {
	Prefix    string `json:"prefix" example:"scan" doc:"Filename prefix for new captures"`
	Rotation  int    `json:"rotation" example:"90" doc:"Rotation applied to new captures, degrees counterclockwise"`
	OutputDir string `json:"output_dir" example:"/srv/scans" doc:"Directory captures are saved to"`
}

type SettingsResponse struct {
	Body SettingsData
}

// UpdateSettingsRequestData carries a partial settings update; omitted
// fields keep their current value.
type UpdateSettingsRequestData struct {
	Prefix   *string `json:"prefix,omitempty" example:"invoice" doc:"New filename prefix" minLength:"1" maxLength:"64"`
	Rotation *int    `json:"rotation,omitempty" example:"90" doc:"Rotation for new captures, degrees counterclockwise" enum:"0,90,180,270"`
}

type UpdateSettingsRequest struct {
	Body UpdateSettingsRequestData
}
