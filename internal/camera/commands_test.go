package camera

import (
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/tethernode/internal/driver"
)

// armCaptureEvent makes the fake report a file-added event once a release
// sequence (or direct trigger) completes, like a real camera would.
func (f *fakeSession) armCaptureEvent(ev driver.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = &ev
}

func TestAutofocus_SequenceIsAtomic(t *testing.T) {
	sess := newFakeSession(t)
	// Simulate the driver caching a previous AF press so the reset shows
	// up in the call log.
	sess.cfg[driver.KeyAutofocus] = "1"

	w := startWorker(t, sess, &fakeStore{})

	if err := waitHandle(t, w.SetLiveView(true)); err != nil {
		t.Fatalf("SetLiveView: %v", err)
	}

	af := w.Autofocus()
	// A competing command submitted while AF is queued/running must not
	// interleave with the sequence.
	marker := w.Submit("marker", func(s driver.Session) error {
		return setKey(s, driver.KeyImageFormat, "RAW")
	})

	if err := waitHandle(t, af); err != nil {
		t.Fatalf("Autofocus: %v", err)
	}
	if err := waitHandle(t, marker); err != nil {
		t.Fatalf("marker: %v", err)
	}

	log := sess.callLog()
	start := slices.Index(log, "set "+driver.KeyViewfinder+"=0")
	if start < 0 {
		t.Fatalf("AF never disabled live view; log: %v", log)
	}
	rest := log[start:]
	end := slices.Index(rest, "set "+driver.KeyViewfinder+"=1")
	if end < 0 {
		t.Fatalf("AF never re-enabled live view; log: %v", rest)
	}
	window := rest[:end]

	// Required order inside the window: reset drive, then trigger drive.
	reset := slices.Index(window, "set "+driver.KeyAutofocus+"=0")
	trigger := slices.Index(window, "set "+driver.KeyAutofocus+"=1")
	if reset < 0 || trigger < 0 || reset > trigger {
		t.Fatalf("AF drive not reset-then-triggered; window: %v", window)
	}

	// Nothing foreign may appear between disable and re-enable: no preview
	// fetch, no event poll, no other command's writes.
	for _, call := range window {
		switch {
		case call == "get-config", call == "set-config":
		case strings.HasPrefix(call, "set "+driver.KeyViewfinder),
			strings.HasPrefix(call, "set "+driver.KeyAutofocus):
		default:
			t.Fatalf("foreign call %q inside AF sequence; window: %v", call, window)
		}
	}
}

func TestAutofocus_UnsupportedCamera(t *testing.T) {
	sess := newFakeSession(t)
	delete(sess.cfg, driver.KeyAutofocus)
	w := startWorker(t, sess, &fakeStore{})

	err := waitHandle(t, w.Autofocus())
	if !errors.Is(err, driver.ErrKeyNotFound) {
		t.Fatalf("error = %v, want ErrKeyNotFound", err)
	}

	// The loop survives a feature-unavailable failure.
	if err := waitHandle(t, w.SetLiveView(true)); err != nil {
		t.Fatalf("live view after AF failure: %v", err)
	}
}

func TestCapture_ReleaseSequenceAndDownload(t *testing.T) {
	sess := newFakeSession(t)
	sess.files["/store/DCIM/IMG_0042.JPG"] = []byte("raw image")
	store := &fakeStore{}

	var captures atomic.Int32
	w := startWorker(t, sess, store, func(w *Worker) {
		w.SetCaptureSink(func(string) { captures.Add(1) })
	})

	if err := waitHandle(t, w.SetLiveView(true)); err != nil {
		t.Fatalf("SetLiveView: %v", err)
	}

	sess.armCaptureEvent(driver.Event{
		Type:   driver.EventFileAdded,
		Folder: "/store/DCIM",
		Name:   "IMG_0042.JPG",
	})

	if err := waitHandle(t, w.Capture()); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	log := sess.callLog()
	wantSteps := []string{
		"set " + driver.KeyRemoteRelease + "=" + driver.ReleasePressHalf,
		"set " + driver.KeyRemoteRelease + "=" + driver.ReleasePressFull,
		"set " + driver.KeyRemoteRelease + "=" + driver.ReleaseReleaseFull,
		"set " + driver.KeyRemoteRelease + "=" + driver.ReleaseReleaseHalf,
	}
	idx := -1
	for _, step := range wantSteps {
		next := slices.Index(log, step)
		if next < 0 || next < idx {
			t.Fatalf("release steps missing or out of order; log: %v", log)
		}
		idx = next
	}

	if store.count() != 1 {
		t.Fatalf("store has %d files, want 1", store.count())
	}
	if n := captures.Load(); n != 1 {
		t.Fatalf("capture sink invoked %d times, want 1", n)
	}

	// Mirror cycle dropped live view; the command restores it.
	sess.mu.Lock()
	vf := sess.cfg[driver.KeyViewfinder]
	sess.mu.Unlock()
	if vf != "1" {
		t.Fatalf("viewfinder = %q after capture, want \"1\"", vf)
	}
}

func TestCapture_TimesOutWithoutFileEvent(t *testing.T) {
	sess := newFakeSession(t)
	w := startWorker(t, sess, &fakeStore{})

	err := waitHandle(t, w.Capture())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("error = %v, want ErrCaptureTimeout", err)
	}
}

func TestCaptureDirect_UsesSingleShotCall(t *testing.T) {
	sess := newFakeSession(t)
	sess.files["/store/DCIM/IMG_0001.JPG"] = []byte("raw image")
	store := &fakeStore{}
	w := startWorker(t, sess, store)

	sess.armCaptureEvent(driver.Event{
		Type:   driver.EventFileAdded,
		Folder: "/store/DCIM",
		Name:   "IMG_0001.JPG",
	})

	if err := waitHandle(t, w.CaptureDirect()); err != nil {
		t.Fatalf("CaptureDirect: %v", err)
	}

	if !slices.Contains(sess.callLog(), "trigger-capture") {
		t.Fatal("driver single-shot call never issued")
	}
	if store.count() != 1 {
		t.Fatalf("store has %d files, want 1", store.count())
	}
}

func TestPrepare_SetsImageFormat(t *testing.T) {
	sess := newFakeSession(t)
	sess.cfg[driver.KeyImageFormat] = "RAW"
	w := startWorker(t, sess, &fakeStore{})

	if err := waitHandle(t, w.Prepare()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	sess.mu.Lock()
	format := sess.cfg[driver.KeyImageFormat]
	sess.mu.Unlock()
	if format != "L" {
		t.Fatalf("image format = %q, want L", format)
	}
}

func TestSetFlash_SwitchesExposureMode(t *testing.T) {
	sess := newFakeSession(t)
	w := startWorker(t, sess, &fakeStore{})

	if err := waitHandle(t, w.SetFlash(true)); err != nil {
		t.Fatalf("SetFlash(true): %v", err)
	}
	sess.mu.Lock()
	mode := sess.cfg[driver.KeyExposureMode]
	sess.mu.Unlock()
	if mode != "Green" {
		t.Fatalf("exposure mode = %q, want Green", mode)
	}

	if err := waitHandle(t, w.SetFlash(false)); err != nil {
		t.Fatalf("SetFlash(false): %v", err)
	}
	sess.mu.Lock()
	mode = sess.cfg[driver.KeyExposureMode]
	sess.mu.Unlock()
	if mode != "Flash Off" {
		t.Fatalf("exposure mode = %q, want Flash Off", mode)
	}
}

func TestHandle_AbandonedWaitDoesNotAffectExecution(t *testing.T) {
	sess := newFakeSession(t)
	w := startWorker(t, sess, &fakeStore{})

	executed := make(chan struct{})
	h := w.Submit("slow", func(driver.Session) error {
		close(executed)
		return nil
	})

	// Abandon immediately with an already-cancelled context.
	ctx, cancel := contextCancelled()
	defer cancel()
	if err := h.Wait(ctx); err == nil {
		t.Fatal("expected context error from abandoned wait")
	}

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("command never executed after wait was abandoned")
	}
}
