// Package sim provides a simulated camera session for development and
// demos without a tethered body. Frames are synthetic JPEGs and captures
// resolve instantly through the normal file-added event path.
package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"time"

	"github.com/smazurov/tethernode/internal/driver"
)

const (
	frameWidth  = 320
	frameHeight = 240

	captureWidth  = 1280
	captureHeight = 853
)

// Session implements driver.Session against an in-memory camera.
// Like the real driver it is not safe for concurrent use.
type Session struct {
	logger   *slog.Logger
	cfg      map[string]string
	pending  []driver.Event
	frameSeq int
	fileSeq  int
	closed   bool
}

// New returns a simulated session with EOS-like defaults.
func New(logger *slog.Logger) *Session {
	return &Session{
		logger: logger,
		cfg: map[string]string{
			driver.KeyViewfinder:    "0",
			driver.KeyAutofocus:     "0",
			driver.KeyRemoteRelease: "None",
			driver.KeyExposureMode:  "Flash Off",
			driver.KeyImageFormat:   "L",
		},
	}
}

// Model returns the simulated model string.
func (s *Session) Model() string { return "Simulated EOS" }

// GetConfig returns a snapshot of the simulated configuration.
func (s *Session) GetConfig() (*driver.Config, error) {
	if s.closed {
		return nil, driver.ErrDisconnected
	}
	return driver.NewConfig(s.cfg), nil
}

// SetConfig applies a snapshot. Completing the remote-release sequence
// queues a file-added event, same as a real body firing the shutter.
func (s *Session) SetConfig(cfg *driver.Config) error {
	if s.closed {
		return driver.ErrDisconnected
	}

	prevRelease := s.cfg[driver.KeyRemoteRelease]
	for key, value := range cfg.Values() {
		s.cfg[key] = value
	}

	release := s.cfg[driver.KeyRemoteRelease]
	if release == driver.ReleaseReleaseHalf && prevRelease != release {
		s.queueCapture()
	}
	return nil
}

// CapturePreview renders one synthetic live-view frame.
func (s *Session) CapturePreview() (driver.Frame, error) {
	if s.closed {
		return driver.Frame{}, driver.ErrDisconnected
	}
	s.frameSeq++
	data, err := renderJPEG(frameWidth, frameHeight, s.frameSeq)
	if err != nil {
		return driver.Frame{}, err
	}
	return driver.Frame{Data: data, Mime: "image/jpeg"}, nil
}

// TriggerCapture queues a capture as if the shutter fired.
func (s *Session) TriggerCapture() error {
	if s.closed {
		return driver.ErrDisconnected
	}
	s.queueCapture()
	return nil
}

func (s *Session) queueCapture() {
	s.fileSeq++
	name := fmt.Sprintf("IMG_%04d.JPG", s.fileSeq)
	s.pending = append(s.pending, driver.Event{
		Type:   driver.EventFileAdded,
		Folder: "/store_00010001/DCIM/100SIM",
		Name:   name,
	})
	s.logger.Debug("Simulated capture", "file", name)
}

// WaitForEvent pops the next queued event, or sleeps out the poll window.
func (s *Session) WaitForEvent(timeout time.Duration) (driver.Event, error) {
	if s.closed {
		return driver.Event{}, driver.ErrDisconnected
	}
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}
	time.Sleep(timeout)
	return driver.Event{Type: driver.EventTimeout}, nil
}

// DownloadFile writes a synthetic full-size JPEG for the named capture.
func (s *Session) DownloadFile(_, name string, w io.Writer) error {
	if s.closed {
		return driver.ErrDisconnected
	}
	data, err := renderJPEG(captureWidth, captureHeight, s.fileSeq)
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

// Close marks the session gone. Further calls return ErrDisconnected.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// renderJPEG draws a moving diagonal gradient so consecutive frames are
// visibly different in the preview stream.
func renderJPEG(width, height, seq int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	shift := seq * 7
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x + y + shift) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(255 - v), B: uint8(seq % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
