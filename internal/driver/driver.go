// Package driver defines the contract between tethernode and the camera
// driver stack. Implementations (gphoto2, sim) live in subpackages.
//
// A Session is not safe for concurrent use. Exactly one goroutine (the
// camera worker) may hold and call a Session; everything else must go
// through the worker's command queue.
package driver

import (
	"io"
	"time"
)

// Well-known configuration keys for the Canon EOS family.
const (
	KeyViewfinder    = "viewfinder"       // live view on/off: "1" / "0"
	KeyAutofocus     = "autofocusdrive"   // AF drive toggle: reset "0", trigger "1"
	KeyRemoteRelease = "eosremoterelease" // software shutter release sequence
	KeyExposureMode  = "autoexposuremode" // "Green" (auto flash) / "Flash Off"
	KeyImageFormat   = "imageformat"      // "L" = large JPEG
)

// Remote release steps. Issued in order with a short delay between steps
// to trigger a full shutter press in software.
const (
	ReleasePressHalf   = "Press Half"
	ReleasePressFull   = "Press Full"
	ReleaseReleaseFull = "Release Full"
	ReleaseReleaseHalf = "Release Half"
)

// EventType identifies a driver-generated event.
type EventType int

// Driver event types.
const (
	EventTimeout   EventType = iota // poll window elapsed, nothing happened
	EventFileAdded                  // camera wrote a new file (capture finished)
	EventOther                      // anything else the driver reports
)

// Event is a single driver notification. Folder and Name identify the
// on-camera file for EventFileAdded and are empty otherwise.
type Event struct {
	Type   EventType
	Folder string
	Name   string
}

// Frame is one live-view preview image. Data is a complete encoded image
// (JPEG for the EOS family) valid until the next frame is fetched.
type Frame struct {
	Data []byte
	Mime string
}

// Session is a live connection to a physical (or simulated) camera.
//
// Configuration follows the driver's read-modify-write protocol: fetch the
// whole snapshot with GetConfig, mutate it, write the whole snapshot back
// with SetConfig. Partial writes are not expressible on purpose.
type Session interface {
	// Model returns the camera model string reported by the driver.
	Model() string

	// GetConfig fetches the full configuration snapshot.
	GetConfig() (*Config, error)

	// SetConfig writes a full configuration snapshot back to the camera.
	SetConfig(cfg *Config) error

	// CapturePreview fetches one live-view frame. Only meaningful while
	// the viewfinder is enabled.
	CapturePreview() (Frame, error)

	// TriggerCapture asks the driver for a direct single-shot capture,
	// bypassing the remote-release sequence. The resulting file still
	// arrives as an EventFileAdded.
	TriggerCapture() error

	// WaitForEvent polls the driver for up to timeout and returns the
	// first event seen, or an Event with Type EventTimeout.
	WaitForEvent(timeout time.Duration) (Event, error)

	// DownloadFile streams the named on-camera file to w.
	DownloadFile(folder, name string, w io.Writer) error

	// Close releases the session. The Session must not be used afterwards.
	Close() error
}
