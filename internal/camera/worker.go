// Package camera implements the single-threaded camera command serializer.
//
// The underlying driver session is not safe for concurrent invocation:
// simultaneous calls from two goroutines corrupt in-flight PTP I/O and
// surface as a generic I/O-busy fault. The Worker removes that possibility
// by construction: it is the only goroutine that ever touches the session,
// and every operation (queued commands, preview fetch, event polling) runs
// through its loop one at a time.
package camera

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/tethernode/internal/driver"
	"github.com/smazurov/tethernode/internal/metrics"
)

// Worker lifecycle errors.
var (
	// ErrNotRunning is attached to handles submitted after the worker has
	// stopped or lost its session.
	ErrNotRunning = errors.New("camera: worker is not running")

	// ErrCaptureTimeout means the camera never reported a new file after a
	// release sequence.
	ErrCaptureTimeout = errors.New("camera: timed out waiting for image")
)

// State is the worker's lifecycle state.
type State string

// Worker states.
const (
	StateRunning      State = "running"      // session held, loop active
	StateDisconnected State = "disconnected" // terminal: session lost to an I/O fault
	StateStopped      State = "stopped"      // terminal: shut down cleanly
)

// Status is a point-in-time snapshot of the worker for the API layer.
type Status struct {
	State    State  `json:"state"`
	Model    string `json:"model"`
	LiveView bool   `json:"live_view"`
	Pending  int    `json:"pending"`
}

// Delays holds the fixed timing constants embedded in multi-step command
// sequences. Exposed as a struct so tests can collapse them.
type Delays struct {
	AFSettle    time.Duration // live view off → AF drive
	AFDrive     time.Duration // lens seek and lock
	ReleaseStep time.Duration // between remote-release steps
	PostCapture time.Duration // after download, before re-enabling live view
	FlashSettle time.Duration // after switching exposure mode
	EventPoll   time.Duration // implicit per-iteration event poll
	CaptureWait time.Duration // total wait for the file after a release
	CapturePoll time.Duration // event poll interval during that wait
}

// DefaultDelays returns the timing used against real EOS hardware.
func DefaultDelays() Delays {
	return Delays{
		AFSettle:    100 * time.Millisecond,
		AFDrive:     2 * time.Second,
		ReleaseStep: 250 * time.Millisecond,
		PostCapture: 800 * time.Millisecond,
		FlashSettle: 300 * time.Millisecond,
		EventPoll:   10 * time.Millisecond,
		CaptureWait: 8 * time.Second,
		CapturePoll: 300 * time.Millisecond,
	}
}

// Store persists files downloaded from the camera. Implemented by the
// image library; the worker only needs the save operation.
type Store interface {
	// Save materializes an on-camera file locally. fetch writes the raw
	// file bytes into the provided writer. Returns the final path.
	Save(folder, name string, fetch func(w io.Writer) error) (string, error)
}

// task pairs a command closure with its completion handle.
type task struct {
	fn func(driver.Session) error
	h  *Handle
}

// Worker owns the exclusive camera session and executes all camera
// operations serially. Create with New, wire sinks, then call Run on a
// dedicated goroutine.
type Worker struct {
	sess   driver.Session
	store  Store
	logger *slog.Logger
	delays Delays

	// sleep and now are injectable for tests.
	sleep func(time.Duration)
	now   func() time.Time

	mu    sync.Mutex
	queue []*task
	state State

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	liveView atomic.Bool

	frameSink    func(driver.Frame)
	captureSink  func(path string)
	onDisconnect func(error)
}

// New creates a worker bound to an already-connected session.
func New(sess driver.Session, store Store, logger *slog.Logger) *Worker {
	return &Worker{
		sess:   sess,
		store:  store,
		logger: logger,
		delays: DefaultDelays(),
		sleep:  time.Sleep,
		now:    time.Now,
		state:  StateRunning,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetDelays overrides the command timing. Call before Run.
func (w *Worker) SetDelays(d Delays) { w.delays = d }

// SetFrameSink registers the preview frame consumer. Called once per frame
// from the worker goroutine; the frame is only valid for the duration of
// the call.
func (w *Worker) SetFrameSink(sink func(driver.Frame)) { w.frameSink = sink }

// SetCaptureSink registers the new-capture consumer. Called once per
// downloaded file with the saved path.
func (w *Worker) SetCaptureSink(sink func(path string)) { w.captureSink = sink }

// SetDisconnectHandler registers the callback invoked when the session is
// lost to an I/O fault. Loop-level failures propagate here, never through
// command handles.
func (w *Worker) SetDisconnectHandler(fn func(error)) { w.onDisconnect = fn }

// Status returns a snapshot of the worker state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		State:    w.state,
		Model:    w.sess.Model(),
		LiveView: w.liveView.Load(),
		Pending:  len(w.queue),
	}
}

// LiveView reports whether live view is currently enabled.
func (w *Worker) LiveView() bool { return w.liveView.Load() }

// Submit enqueues a command for serial execution against the session.
// It never blocks: the returned handle is the only way to observe the
// outcome, and waiting on it is optional. Commands run in FIFO submission
// order, interleaved only with the loop's implicit preview/event work,
// never inside another command.
func (w *Worker) Submit(name string, fn func(driver.Session) error) *Handle {
	h := newHandle(name)

	w.mu.Lock()
	if w.state != StateRunning {
		state := w.state
		w.mu.Unlock()
		h.settle(fmt.Errorf("%w (state %s)", ErrNotRunning, state))
		return h
	}
	w.queue = append(w.queue, &task{fn: fn, h: h})
	w.mu.Unlock()

	return h
}

// Stop asks the loop to exit after the current iteration. Safe to call
// more than once and from any goroutine.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done returns a channel closed once the loop has exited and the session
// has been released.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Run executes the worker loop until Stop is called or the session is lost.
// It blocks; run it on its own goroutine. On exit the session is closed and
// all unexecuted handles are settled.
func (w *Worker) Run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.shutdown()
			return
		default:
		}

		// 1. Bounded drain: execute everything queued right now, but do
		// not block waiting for more.
		for _, t := range w.takeQueued() {
			if err := w.runCommand(t); driver.IsDisconnect(err) {
				w.disconnect(err)
				return
			}
		}

		// 2. One preview frame per pass while live view is enabled.
		if w.liveView.Load() {
			if err := w.fetchFrame(); driver.IsDisconnect(err) {
				w.disconnect(err)
				return
			}
		}

		// 3. Short bounded event poll: detects a physical shutter press
		// between commands and keeps the loop paced.
		if err := w.pollEvent(); driver.IsDisconnect(err) {
			w.disconnect(err)
			return
		}
	}
}

// takeQueued atomically removes and returns all currently queued tasks.
func (w *Worker) takeQueued() []*task {
	w.mu.Lock()
	defer w.mu.Unlock()
	tasks := w.queue
	w.queue = nil
	return tasks
}

// runCommand executes one task and settles its handle. Non-disconnect
// failures stay attached to the handle; only disconnects escape.
func (w *Worker) runCommand(t *task) error {
	start := w.now()
	err := t.fn(w.sess)
	metrics.ObserveCommand(t.h.name, w.now().Sub(start), err)

	if errors.Is(err, driver.ErrBusy) {
		// Serialization makes busy faults impossible; seeing one means a
		// second session holder exists somewhere.
		w.logger.Error("I/O busy under serialized access, this is a bug",
			"command", t.h.name, "error", err)
	} else if err != nil && !driver.IsDisconnect(err) {
		w.logger.Warn("Command failed", "command", t.h.name, "error", err)
	}

	t.h.settle(err)
	return err
}

func (w *Worker) fetchFrame() error {
	frame, err := w.sess.CapturePreview()
	if err != nil {
		if driver.IsDisconnect(err) {
			return err
		}
		w.logger.Debug("Preview fetch failed", "error", err)
		return nil
	}
	metrics.IncFrames()
	if w.frameSink != nil {
		w.frameSink(frame)
	}
	return nil
}

func (w *Worker) pollEvent() error {
	ev, err := w.sess.WaitForEvent(w.delays.EventPoll)
	if err != nil {
		if driver.IsDisconnect(err) {
			return err
		}
		w.logger.Debug("Event poll failed", "error", err)
		return nil
	}
	if ev.Type != driver.EventFileAdded {
		return nil
	}

	// Externally triggered capture (physical shutter press).
	w.logger.Info("File added by camera", "folder", ev.Folder, "name", ev.Name)
	if err := w.downloadAndDeliver(ev); err != nil {
		if driver.IsDisconnect(err) {
			return err
		}
		// Surfaced but never fatal for the loop.
		w.logger.Warn("Failed to download camera file", "name", ev.Name, "error", err)
	}
	return nil
}

// downloadAndDeliver saves an on-camera file through the store and hands
// the result to the capture sink.
func (w *Worker) downloadAndDeliver(ev driver.Event) error {
	path, err := w.store.Save(ev.Folder, ev.Name, func(dst io.Writer) error {
		return w.sess.DownloadFile(ev.Folder, ev.Name, dst)
	})
	if err != nil {
		return err
	}
	w.emitCapture(path)
	return nil
}

// disconnect transitions to the terminal disconnected state: pending
// handles fail, the session is released, and no further driver calls are
// attempted.
func (w *Worker) disconnect(cause error) {
	w.logger.Error("Camera disconnected", "error", cause)
	metrics.IncDisconnects()

	w.mu.Lock()
	w.state = StateDisconnected
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, t := range pending {
		t.h.settle(fmt.Errorf("%w: %w", driver.ErrDisconnected, cause))
	}

	if err := w.sess.Close(); err != nil {
		w.logger.Debug("Session close after disconnect", "error", err)
	}

	if w.onDisconnect != nil {
		w.onDisconnect(cause)
	}
}

// shutdown performs a clean stop: pending handles fail with ErrNotRunning
// and the session is released.
func (w *Worker) shutdown() {
	w.mu.Lock()
	w.state = StateStopped
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, t := range pending {
		t.h.settle(ErrNotRunning)
	}

	if err := w.sess.Close(); err != nil {
		w.logger.Warn("Session close failed", "error", err)
	}
	w.logger.Info("Camera worker stopped")
}
