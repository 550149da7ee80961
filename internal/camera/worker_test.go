package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/tethernode/internal/driver"
)

// fakeSession is an in-memory driver that records every call in order and
// fails the test if it ever observes a re-entrant invocation.
type fakeSession struct {
	t *testing.T

	inFlight atomic.Int32

	mu     sync.Mutex
	cfg    map[string]string
	calls  []string
	events []driver.Event
	armed  *driver.Event // queued as an event when a capture completes
	files  map[string][]byte

	failWith  error         // when set, every call returns this error
	frameGate chan struct{} // when non-nil, CapturePreview needs a token
	closed    bool
}

func newFakeSession(t *testing.T) *fakeSession {
	return &fakeSession{
		t: t,
		cfg: map[string]string{
			driver.KeyViewfinder:    "0",
			driver.KeyAutofocus:     "0",
			driver.KeyRemoteRelease: "None",
			driver.KeyExposureMode:  "Flash Off",
			driver.KeyImageFormat:   "L",
		},
		files: make(map[string][]byte),
	}
}

// enter asserts single-threaded access and simulates a little work so that
// overlapping callers would actually collide.
func (f *fakeSession) enter(call string) func() {
	if n := f.inFlight.Add(1); n != 1 {
		f.t.Errorf("re-entrant driver call %q (%d in flight)", call, n)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeSession) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSession) pushEvent(ev driver.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSession) Model() string { return "Canon EOS 1100D (fake)" }

func (f *fakeSession) GetConfig() (*driver.Config, error) {
	defer f.enter("get-config")()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return driver.NewConfig(f.cfg), nil
}

func (f *fakeSession) SetConfig(cfg *driver.Config) error {
	done := f.enter("set-config")
	if f.failWith != nil {
		done()
		return f.failWith
	}
	f.mu.Lock()
	for k, v := range cfg.Values() {
		if f.cfg[k] != v {
			f.calls = append(f.calls, fmt.Sprintf("set %s=%s", k, v))
			f.cfg[k] = v
			if k == driver.KeyRemoteRelease && v == driver.ReleaseReleaseHalf && f.armed != nil {
				f.events = append(f.events, *f.armed)
				f.armed = nil
			}
		}
	}
	f.mu.Unlock()
	done()
	return nil
}

func (f *fakeSession) CapturePreview() (driver.Frame, error) {
	defer f.enter("preview")()
	if f.failWith != nil {
		return driver.Frame{}, f.failWith
	}
	if f.frameGate != nil {
		select {
		case <-f.frameGate:
		default:
			return driver.Frame{}, errors.New("no frame ready")
		}
	}
	return driver.Frame{Data: []byte("jpeg-bytes"), Mime: "image/jpeg"}, nil
}

func (f *fakeSession) TriggerCapture() error {
	defer f.enter("trigger-capture")()
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	if f.armed != nil {
		f.events = append(f.events, *f.armed)
		f.armed = nil
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) WaitForEvent(_ time.Duration) (driver.Event, error) {
	defer f.enter("wait-event")()
	if f.failWith != nil {
		return driver.Event{}, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		return ev, nil
	}
	return driver.Event{Type: driver.EventTimeout}, nil
}

func (f *fakeSession) DownloadFile(folder, name string, w io.Writer) error {
	defer f.enter("download")()
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	data, ok := f.files[folder+"/"+name]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such file %s/%s", folder, name)
	}
	_, err := w.Write(data)
	return err
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeStore keeps downloads in memory.
type fakeStore struct {
	mu    sync.Mutex
	saved []string
}

func (s *fakeStore) Save(folder, name string, fetch func(io.Writer) error) (string, error) {
	var buf bytes.Buffer
	if err := fetch(&buf); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join("/tmp/scans", name)
	s.saved = append(s.saved, path)
	return path, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// contextCancelled returns an already-cancelled context.
func contextCancelled() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx, cancel
}

// fastDelays collapses all command timing so tests run instantly.
func fastDelays() Delays {
	return Delays{
		EventPoll:   time.Millisecond,
		CaptureWait: 200 * time.Millisecond,
		CapturePoll: time.Millisecond,
	}
}

// startWorker builds a worker with fast delays, lets configure wire sinks
// before the loop starts, and runs it with cleanup.
func startWorker(t *testing.T, sess driver.Session, store Store, configure ...func(*Worker)) *Worker {
	t.Helper()
	w := New(sess, store, testLogger())
	w.SetDelays(fastDelays())
	for _, fn := range configure {
		fn(w)
	}
	go w.Run()
	t.Cleanup(func() {
		w.Stop()
		select {
		case <-w.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	})
	return w
}

func waitHandle(t *testing.T, h *Handle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("command %s never completed", h.Name())
	}
	return err
}

func TestWorker_SerializesConcurrentSubmitters(t *testing.T) {
	sess := newFakeSession(t)
	w := startWorker(t, sess, &fakeStore{})

	const submitters = 8
	const perSubmitter = 20

	var wg sync.WaitGroup
	handles := make(chan *Handle, submitters*perSubmitter)
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSubmitter {
				handles <- w.Submit("config-touch", func(s driver.Session) error {
					cfg, err := s.GetConfig()
					if err != nil {
						return err
					}
					if err := cfg.Set(driver.KeyImageFormat, "L"); err != nil {
						return err
					}
					return s.SetConfig(cfg)
				})
			}
		}()
	}
	wg.Wait()
	close(handles)

	for h := range handles {
		if err := waitHandle(t, h); err != nil {
			t.Errorf("command failed: %v", err)
		}
	}
	// Re-entrancy violations are reported by fakeSession.enter.
}

func TestWorker_CommandsCompleteInFIFOOrder(t *testing.T) {
	sess := newFakeSession(t)
	w := startWorker(t, sess, &fakeStore{})

	var mu sync.Mutex
	var order []string

	record := func(name string) func(driver.Session) error {
		return func(driver.Session) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	a := w.Submit("a", record("a"))
	b := w.Submit("b", record("b"))
	c := w.Submit("c", record("c"))

	for _, h := range []*Handle{a, b, c} {
		if err := waitHandle(t, h); err != nil {
			t.Fatalf("command %s: %v", h.Name(), err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestWorker_DisconnectIsTerminal(t *testing.T) {
	sess := newFakeSession(t)
	store := &fakeStore{}

	w := New(sess, store, testLogger())
	w.SetDelays(fastDelays())

	disconnected := make(chan error, 1)
	w.SetDisconnectHandler(func(err error) { disconnected <- err })

	sess.failWith = driver.ErrDisconnected
	go w.Run()

	h := w.SetLiveView(true)
	if err := waitHandle(t, h); !driver.IsDisconnect(err) {
		t.Fatalf("handle error = %v, want disconnect", err)
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never fired")
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker loop did not exit after disconnect")
	}

	if got := w.Status().State; got != StateDisconnected {
		t.Fatalf("state = %s, want %s", got, StateDisconnected)
	}

	// No further driver calls once disconnected.
	before := len(sess.callLog())
	h = w.Submit("late", func(driver.Session) error { return nil })
	if err := waitHandle(t, h); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("late submit error = %v, want ErrNotRunning", err)
	}
	if after := len(sess.callLog()); after != before {
		t.Fatalf("driver called %d more times after disconnect", after-before)
	}
}

func TestWorker_ManualShutterDownloadsExactlyOnce(t *testing.T) {
	sess := newFakeSession(t)
	sess.files["/store/DCIM/IMG_0001.JPG"] = []byte("raw image")
	store := &fakeStore{}

	var captures atomic.Int32
	done := make(chan string, 1)
	startWorker(t, sess, store, func(w *Worker) {
		w.SetCaptureSink(func(path string) {
			captures.Add(1)
			select {
			case done <- path:
			default:
			}
		})
	})

	sess.pushEvent(driver.Event{Type: driver.EventFileAdded, Folder: "/store/DCIM", Name: "IMG_0001.JPG"})

	select {
	case path := <-done:
		if filepath.Base(path) != "IMG_0001.JPG" {
			t.Fatalf("unexpected saved path %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture sink never invoked")
	}

	// Let the loop run a few more passes, then confirm no duplicates.
	time.Sleep(20 * time.Millisecond)
	if n := captures.Load(); n != 1 {
		t.Fatalf("capture sink invoked %d times, want 1", n)
	}
	if store.count() != 1 {
		t.Fatalf("store has %d files, want 1", store.count())
	}
}

func TestWorker_DownloadFailureDoesNotStopLoop(t *testing.T) {
	sess := newFakeSession(t)
	store := &fakeStore{}
	w := startWorker(t, sess, store)

	// Event references a file the fake does not have: download fails.
	sess.pushEvent(driver.Event{Type: driver.EventFileAdded, Folder: "/store/DCIM", Name: "MISSING.JPG"})

	time.Sleep(20 * time.Millisecond)

	// Loop must still accept and run commands.
	h := w.Submit("noop", func(driver.Session) error { return nil })
	if err := waitHandle(t, h); err != nil {
		t.Fatalf("command after failed download: %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("store has %d files, want 0", store.count())
	}
}

func TestSetLiveView_Idempotent(t *testing.T) {
	sess := newFakeSession(t)
	w := startWorker(t, sess, &fakeStore{})

	for _, on := range []bool{true, false, true} {
		if err := waitHandle(t, w.SetLiveView(on)); err != nil {
			t.Fatalf("SetLiveView(%v): %v", on, err)
		}
	}

	sess.mu.Lock()
	got := sess.cfg[driver.KeyViewfinder]
	sess.mu.Unlock()
	if got != "1" {
		t.Fatalf("viewfinder = %q after on/off/on, want \"1\"", got)
	}
	if !w.LiveView() {
		t.Fatal("worker live view state should be on")
	}
}

func TestWorker_PreviewSinkPerIteration(t *testing.T) {
	sess := newFakeSession(t)
	sess.frameGate = make(chan struct{}, 5)

	var frames atomic.Int32
	var captures atomic.Int32
	fifth := make(chan struct{})
	w := startWorker(t, sess, &fakeStore{}, func(w *Worker) {
		w.SetFrameSink(func(f driver.Frame) {
			if len(f.Data) == 0 {
				t.Error("empty frame data")
			}
			if frames.Add(1) == 5 {
				close(fifth)
			}
		})
		w.SetCaptureSink(func(string) { captures.Add(1) })
	})

	if err := waitHandle(t, w.SetLiveView(true)); err != nil {
		t.Fatalf("SetLiveView: %v", err)
	}

	// Allow exactly five frames; later iterations find the gate empty.
	for range 5 {
		sess.frameGate <- struct{}{}
	}

	select {
	case <-fifth:
	case <-time.After(2 * time.Second):
		t.Fatal("never saw five frames")
	}

	time.Sleep(20 * time.Millisecond)
	if n := frames.Load(); n != 5 {
		t.Fatalf("frame sink invoked %d times, want 5", n)
	}
	if n := captures.Load(); n != 0 {
		t.Fatalf("capture sink invoked %d times, want 0", n)
	}
}
