package sim

import (
	"bytes"
	"errors"
	"image/jpeg"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/tethernode/internal/driver"
)

func newSession() *Session {
	return New(slog.New(slog.DiscardHandler))
}

func TestReleaseSequenceQueuesCapture(t *testing.T) {
	s := newSession()

	for _, step := range []string{
		driver.ReleasePressHalf,
		driver.ReleasePressFull,
		driver.ReleaseReleaseFull,
		driver.ReleaseReleaseHalf,
	} {
		cfg, err := s.GetConfig()
		if err != nil {
			t.Fatalf("GetConfig: %v", err)
		}
		if err := cfg.Set(driver.KeyRemoteRelease, step); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.SetConfig(cfg); err != nil {
			t.Fatalf("SetConfig: %v", err)
		}
	}

	ev, err := s.WaitForEvent(time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if ev.Type != driver.EventFileAdded {
		t.Fatalf("type = %v, want EventFileAdded", ev.Type)
	}
	if ev.Name == "" || ev.Folder == "" {
		t.Errorf("event missing file identity: %+v", ev)
	}

	// Queue drained, next poll times out.
	ev, err = s.WaitForEvent(time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if ev.Type != driver.EventTimeout {
		t.Errorf("type = %v, want EventTimeout", ev.Type)
	}
}

func TestTriggerCaptureQueuesUniqueFiles(t *testing.T) {
	s := newSession()

	if err := s.TriggerCapture(); err != nil {
		t.Fatalf("TriggerCapture: %v", err)
	}
	if err := s.TriggerCapture(); err != nil {
		t.Fatalf("TriggerCapture: %v", err)
	}

	first, _ := s.WaitForEvent(time.Millisecond)
	second, _ := s.WaitForEvent(time.Millisecond)
	if first.Name == second.Name {
		t.Errorf("duplicate file names: %q", first.Name)
	}
}

func TestCapturePreviewProducesDistinctJPEGs(t *testing.T) {
	s := newSession()

	a, err := s.CapturePreview()
	if err != nil {
		t.Fatalf("CapturePreview: %v", err)
	}
	b, err := s.CapturePreview()
	if err != nil {
		t.Fatalf("CapturePreview: %v", err)
	}

	if a.Mime != "image/jpeg" {
		t.Errorf("mime = %q", a.Mime)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(a.Data)); err != nil {
		t.Fatalf("frame is not a valid JPEG: %v", err)
	}
	if bytes.Equal(a.Data, b.Data) {
		t.Error("consecutive frames are identical")
	}
}

func TestDownloadFileWritesJPEG(t *testing.T) {
	s := newSession()
	if err := s.TriggerCapture(); err != nil {
		t.Fatalf("TriggerCapture: %v", err)
	}
	ev, _ := s.WaitForEvent(time.Millisecond)

	var buf bytes.Buffer
	if err := s.DownloadFile(ev.Folder, ev.Name, &buf); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("download is not a valid JPEG: %v", err)
	}
	if cfg.Width != captureWidth || cfg.Height != captureHeight {
		t.Errorf("capture %dx%d", cfg.Width, cfg.Height)
	}
}

func TestClosedSessionReturnsDisconnected(t *testing.T) {
	s := newSession()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.GetConfig(); !errors.Is(err, driver.ErrDisconnected) {
		t.Errorf("GetConfig after close = %v", err)
	}
	if _, err := s.CapturePreview(); !errors.Is(err, driver.ErrDisconnected) {
		t.Errorf("CapturePreview after close = %v", err)
	}
	if err := s.TriggerCapture(); !errors.Is(err, driver.ErrDisconnected) {
		t.Errorf("TriggerCapture after close = %v", err)
	}
}
