package camera

import (
	"fmt"
	"io"

	"github.com/smazurov/tethernode/internal/driver"
	"github.com/smazurov/tethernode/internal/metrics"
)

// setKey performs one read-modify-write cycle for a single configuration
// key. The driver requires whole-snapshot writes; partial updates against a
// stale snapshot can be rejected by the camera's configuration tree.
func setKey(s driver.Session, key, value string) error {
	cfg, err := s.GetConfig()
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := s.SetConfig(cfg); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func viewfinderValue(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// SetLiveView submits a command toggling the live-view stream. The worker
// fetches one preview frame per loop pass while enabled.
func (w *Worker) SetLiveView(on bool) *Handle {
	return w.Submit("liveview", func(s driver.Session) error {
		if err := setKey(s, driver.KeyViewfinder, viewfinderValue(on)); err != nil {
			return err
		}
		w.liveView.Store(on)
		return nil
	})
}

// Autofocus submits the quick-mode AF sequence. The EOS family cannot drive
// phase-detect AF while live view streams, so the whole sequence runs as
// one command: nothing can interleave between the steps.
//
// The autofocusdrive key is a toggle the driver caches: it must be reset
// to 0 before setting 1 or repeat presses are no-ops.
func (w *Worker) Autofocus() *Handle {
	return w.Submit("autofocus", func(s driver.Session) error {
		if err := setKey(s, driver.KeyViewfinder, "0"); err != nil {
			return err
		}
		w.sleep(w.delays.AFSettle)

		if err := setKey(s, driver.KeyAutofocus, "0"); err != nil {
			return err
		}
		if err := setKey(s, driver.KeyAutofocus, "1"); err != nil {
			return err
		}
		w.sleep(w.delays.AFDrive)

		return setKey(s, driver.KeyViewfinder, "1")
	})
}

// releaseSteps is the four-step software shutter press.
var releaseSteps = []string{
	driver.ReleasePressHalf,
	driver.ReleasePressFull,
	driver.ReleaseReleaseFull,
	driver.ReleaseReleaseHalf,
}

// Capture submits a full capture sequence: remote-release press, wait for
// the camera to report the new file, download it, then re-enable the
// viewfinder (the mirror cycle drops live view on this camera family).
// Atomic with respect to other commands and the implicit loop work.
func (w *Worker) Capture() *Handle {
	return w.Submit("capture", func(s driver.Session) error {
		for _, step := range releaseSteps {
			if err := setKey(s, driver.KeyRemoteRelease, step); err != nil {
				return err
			}
			w.sleep(w.delays.ReleaseStep)
		}
		return w.awaitCapturedFile(s)
	})
}

// CaptureDirect submits a capture using the driver's single-shot call
// instead of the remote-release sequence. Used by the one-shot CLI path.
func (w *Worker) CaptureDirect() *Handle {
	return w.Submit("capture-direct", func(s driver.Session) error {
		if err := s.TriggerCapture(); err != nil {
			return fmt.Errorf("trigger capture: %w", err)
		}
		return w.awaitCapturedFile(s)
	})
}

// awaitCapturedFile polls for the file-added event produced by a capture,
// downloads it, and restores the viewfinder state.
func (w *Worker) awaitCapturedFile(s driver.Session) error {
	deadline := w.now().Add(w.delays.CaptureWait)
	for w.now().Before(deadline) {
		ev, err := s.WaitForEvent(w.delays.CapturePoll)
		if err != nil {
			return err
		}
		if ev.Type != driver.EventFileAdded {
			continue
		}

		path, err := w.store.Save(ev.Folder, ev.Name, func(dst io.Writer) error {
			return s.DownloadFile(ev.Folder, ev.Name, dst)
		})
		if err != nil {
			return fmt.Errorf("download %s: %w", ev.Name, err)
		}
		w.emitCapture(path)

		w.sleep(w.delays.PostCapture)
		if w.liveView.Load() {
			return setKey(s, driver.KeyViewfinder, "1")
		}
		return nil
	}
	return ErrCaptureTimeout
}

func (w *Worker) emitCapture(path string) {
	metrics.IncCaptures()
	if w.captureSink != nil {
		w.captureSink(path)
	}
}

// Prepare submits the startup configuration: large JPEG output, so every
// download is a JPEG the thumbnail pipeline can decode. Bodies that do not
// expose the key fail with ErrKeyNotFound.
func (w *Worker) Prepare() *Handle {
	return w.Submit("prepare", func(s driver.Session) error {
		return setKey(s, driver.KeyImageFormat, "L")
	})
}

// SetFlash submits a command switching the exposure program between auto
// (pop-up flash fires) and flash-off. The reported flash state elsewhere in
// the app is the UI toggle, not read back from the camera.
func (w *Worker) SetFlash(on bool) *Handle {
	return w.Submit("flash", func(s driver.Session) error {
		mode := "Flash Off"
		if on {
			mode = "Green"
		}
		if err := setKey(s, driver.KeyExposureMode, mode); err != nil {
			return err
		}
		w.sleep(w.delays.FlashSettle)
		return nil
	})
}
