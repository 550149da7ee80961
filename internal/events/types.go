package events

// Event type constants for kelindar/event.
const (
	TypeCaptureSaved uint32 = iota + 1
	TypeCameraStatus
	TypeCameraDisconnected
	TypeSettingsChanged
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureSavedEvent is published after a captured image has been
// downloaded from the camera and written to the library.
type CaptureSavedEvent struct {
	Name      string `json:"name" example:"scan_2026-08-23_12-00-00.jpg" doc:"Saved file name"`
	Source    string `json:"source" example:"camera" doc:"Capture source"`
	Timestamp string `json:"timestamp" example:"2026-08-23T12:00:00Z" doc:"Save timestamp"`
}

// Type returns the event type identifier for CaptureSavedEvent.
func (e CaptureSavedEvent) Type() uint32 { return TypeCaptureSaved }

// CameraStatusEvent reports worker state transitions and live-view/flash
// toggles so UI clients can stay in sync without polling.
type CameraStatusEvent struct {
	State     string `json:"state" example:"running" doc:"Worker state"`
	Model     string `json:"model" example:"Canon EOS 1100D" doc:"Camera model"`
	LiveView  bool   `json:"live_view" example:"true" doc:"Whether live view is streaming"`
	Flash     bool   `json:"flash" example:"false" doc:"UI-side flash toggle state"`
	Timestamp string `json:"timestamp" example:"2026-08-23T12:00:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStatusEvent.
func (e CameraStatusEvent) Type() uint32 { return TypeCameraStatus }

// CameraDisconnectedEvent is published once when the camera session is
// lost to an I/O fault. The worker is terminal after this.
type CameraDisconnectedEvent struct {
	Error     string `json:"error" example:"driver: camera disconnected" doc:"Underlying fault"`
	Timestamp string `json:"timestamp" example:"2026-08-23T12:00:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraDisconnectedEvent.
func (e CameraDisconnectedEvent) Type() uint32 { return TypeCameraDisconnected }

// SettingsChangedEvent reports runtime setting updates.
type SettingsChangedEvent struct {
	Prefix    string `json:"prefix" example:"invoice" doc:"Current filename prefix"`
	Rotation  int    `json:"rotation" example:"90" doc:"Rotation for new captures, degrees counterclockwise"`
	Timestamp string `json:"timestamp" example:"2026-08-23T12:00:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SettingsChangedEvent.
func (e SettingsChangedEvent) Type() uint32 { return TypeSettingsChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2026-08-23T12:00:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"camera" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
