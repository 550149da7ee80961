// Package gphoto2 implements driver.Session on top of the gphoto2
// command line tool. Every operation shells out; there is no persistent
// camera handle, so the USB device stays claimable between commands.
package gphoto2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/smazurov/tethernode/internal/driver"
)

const defaultBinary = "gphoto2"

// commandTimeout bounds a single gphoto2 invocation. Downloads of large
// RAW files are the slowest operation in practice.
const commandTimeout = 30 * time.Second

// managedKeys is the configuration surface the worker reads and writes.
// Keys the camera does not expose are omitted from the snapshot.
var managedKeys = []string{
	driver.KeyViewfinder,
	driver.KeyAutofocus,
	driver.KeyRemoteRelease,
	driver.KeyExposureMode,
	driver.KeyImageFormat,
}

// gvfs monitors grab the PTP device the moment a camera is plugged in
// and hold it, which makes every gphoto2 call fail with a claim error.
var ptpMonitors = []string{"gvfs-gphoto2-volume-monitor", "gvfsd-gphoto2"}

// runFunc executes a command and returns stdout, stderr and the exec error.
// Swappable for tests.
type runFunc func(ctx context.Context, bin string, args ...string) ([]byte, []byte, error)

func execRun(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Options configures how a session talks to gphoto2.
type Options struct {
	// Binary is the gphoto2 executable. Defaults to "gphoto2" on PATH.
	Binary string

	// Port pins a specific USB port ("usb:001,004"). Auto-detected when empty.
	Port string

	// KillMonitors terminates gvfs PTP monitors before connecting so the
	// camera can be claimed.
	KillMonitors bool
}

// Session drives one camera through the gphoto2 CLI.
type Session struct {
	bin      string
	port     string
	model    string
	logger   *slog.Logger
	snapshot map[string]string
	run      runFunc
}

// Open detects the camera and returns a ready session.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	s := &Session{
		bin:    opts.Binary,
		port:   opts.Port,
		logger: logger,
		run:    execRun,
	}
	if s.bin == "" {
		s.bin = defaultBinary
	}

	if opts.KillMonitors {
		s.killMonitors(ctx)
	}

	if err := s.detect(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Camera detected", "model", s.model, "port", s.port)
	return s, nil
}

// killMonitors terminates desktop PTP monitors. Failures are expected on
// headless systems and ignored.
func (s *Session) killMonitors(ctx context.Context) {
	for _, name := range ptpMonitors {
		if _, _, err := s.run(ctx, "pkill", "-f", name); err == nil {
			s.logger.Debug("Killed PTP monitor", "process", name)
		}
	}
}

// detect runs --auto-detect and picks the first camera, or validates the
// pinned port when one was given.
func (s *Session) detect(ctx context.Context) error {
	stdout, stderr, err := s.run(ctx, s.bin, "--auto-detect")
	if err != nil {
		return mapError("auto-detect", stderr, err)
	}

	model, port, ok := parseAutoDetect(string(stdout), s.port)
	if !ok {
		return fmt.Errorf("auto-detect: no camera found: %w", driver.ErrDisconnected)
	}
	s.model = model
	s.port = port
	return nil
}

// parseAutoDetect extracts (model, port) from --auto-detect output:
//
//	Model                          Port
//	----------------------------------------------------------
//	Canon EOS 1100D                usb:001,004
//
// When wantPort is non-empty only that port matches.
func parseAutoDetect(output, wantPort string) (model, port string, ok bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " \r")
		idx := strings.LastIndex(line, "usb:")
		if idx < 0 {
			continue
		}
		p := strings.TrimSpace(line[idx:])
		m := strings.TrimSpace(line[:idx])
		if m == "" {
			continue
		}
		if wantPort != "" && p != wantPort {
			continue
		}
		return m, p, true
	}
	return "", "", false
}

// Model returns the detected camera model.
func (s *Session) Model() string { return s.model }

// GetConfig reads the managed configuration keys in one gphoto2 call.
// Keys the camera does not expose are left out of the snapshot, so a
// later Set on them surfaces ErrKeyNotFound.
func (s *Session) GetConfig() (*driver.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	values := make(map[string]string, len(managedKeys))
	for _, key := range managedKeys {
		stdout, stderr, err := s.run(ctx, s.bin, s.portArgs("--get-config", key)...)
		if err != nil {
			mapped := mapError("get-config "+key, stderr, err)
			if isKeyNotFound(stderr) {
				// Unsupported key on this body, skip it.
				s.logger.Debug("Config key not exposed", "key", key)
				continue
			}
			return nil, mapped
		}
		current, ok := parseCurrent(string(stdout))
		if !ok {
			s.logger.Warn("Could not parse config value", "key", key)
			continue
		}
		values[key] = current
	}

	cfg := driver.NewConfig(values)
	s.snapshot = cfg.Values()
	return cfg, nil
}

// SetConfig writes back a configuration snapshot. Only keys that changed
// since the last GetConfig are sent to the camera.
func (s *Session) SetConfig(cfg *driver.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	args := s.portArgs()
	changed := 0
	for key, value := range cfg.Values() {
		if s.snapshot != nil && s.snapshot[key] == value {
			continue
		}
		args = append(args, "--set-config-value", key+"="+value)
		changed++
	}
	if changed == 0 {
		return nil
	}

	_, stderr, err := s.run(ctx, s.bin, args...)
	if err != nil {
		return mapError("set-config", stderr, err)
	}
	s.snapshot = cfg.Values()
	return nil
}

// CapturePreview fetches one live-view frame as JPEG bytes.
func (s *Session) CapturePreview() (driver.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	stdout, stderr, err := s.run(ctx, s.bin, s.portArgs("--capture-preview", "--stdout")...)
	if err != nil {
		return driver.Frame{}, mapError("capture-preview", stderr, err)
	}
	return driver.Frame{Data: stdout, Mime: "image/jpeg"}, nil
}

// TriggerCapture fires a direct single-shot capture.
func (s *Session) TriggerCapture() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, stderr, err := s.run(ctx, s.bin, s.portArgs("--trigger-capture")...)
	if err != nil {
		return mapError("trigger-capture", stderr, err)
	}
	return nil
}

// WaitForEvent polls the camera event queue for up to timeout.
func (s *Session) WaitForEvent(timeout time.Duration) (driver.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+commandTimeout)
	defer cancel()

	arg := fmt.Sprintf("--wait-event=%dms", timeout.Milliseconds())
	stdout, stderr, err := s.run(ctx, s.bin, s.portArgs(arg)...)
	if err != nil {
		return driver.Event{}, mapError("wait-event", stderr, err)
	}
	return parseEvents(string(stdout)), nil
}

// parseEvents scans --wait-event output for the first file-added line:
//
//	FILEADDED IMG_0248.JPG /store_00010001/DCIM/100CANON
func parseEvents(output string) driver.Event {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "FILEADDED" {
			return driver.Event{
				Type:   driver.EventFileAdded,
				Name:   fields[1],
				Folder: fields[2],
			}
		}
	}
	return driver.Event{Type: driver.EventTimeout}
}

// DownloadFile streams an on-camera file to w.
func (s *Session) DownloadFile(folder, name string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	args := s.portArgs("--folder", folder, "--get-file", name, "--stdout")
	stdout, stderr, err := s.run(ctx, s.bin, args...)
	if err != nil {
		return mapError("get-file "+name, stderr, err)
	}
	if _, err := w.Write(stdout); err != nil {
		return fmt.Errorf("write downloaded file: %w", err)
	}
	return nil
}

// Close releases the session. The CLI holds no persistent handle, so this
// only invalidates the struct.
func (s *Session) Close() error {
	s.snapshot = nil
	return nil
}

// portArgs prepends the pinned --port flag to args.
func (s *Session) portArgs(args ...string) []string {
	if s.port == "" {
		return args
	}
	return append([]string{"--port", s.port}, args...)
}

// parseCurrent pulls the "Current:" value out of a --get-config block:
//
//	Label: Viewfinder
//	Readonly: 0
//	Type: TOGGLE
//	Current: 0
//	END
func parseCurrent(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "Current:"); ok {
			return strings.TrimSpace(after), true
		}
	}
	return "", false
}

// isKeyNotFound reports whether stderr indicates an unknown config key.
func isKeyNotFound(stderr []byte) bool {
	msg := strings.ToLower(string(stderr))
	return strings.Contains(msg, "not found") || strings.Contains(msg, "bad parameters")
}

// mapError translates gphoto2 stderr and exit status into the driver
// error taxonomy.
func mapError(op string, stderr []byte, err error) error {
	msg := strings.ToLower(string(stderr))

	switch {
	case strings.Contains(msg, "could not claim"),
		strings.Contains(msg, "device busy"),
		strings.Contains(msg, "i/o in progress"):
		return fmt.Errorf("%s: %w", op, driver.ErrBusy)
	case strings.Contains(msg, "no camera found"),
		strings.Contains(msg, "could not detect"),
		strings.Contains(msg, "camera is gone"),
		strings.Contains(msg, "i/o problem"),
		strings.Contains(msg, "i/o error"),
		strings.Contains(msg, "unknown port"):
		return fmt.Errorf("%s: %w", op, driver.ErrDisconnected)
	case isKeyNotFound(stderr):
		return fmt.Errorf("%s: %w", op, driver.ErrKeyNotFound)
	}

	line := strings.TrimSpace(strings.SplitN(string(stderr), "\n", 2)[0])
	if line == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %s: %w", op, line, err)
}
