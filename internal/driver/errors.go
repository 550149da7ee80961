package driver

import "errors"

// Error taxonomy surfaced by Session implementations.
var (
	// ErrBusy is a transient I/O-busy fault. With correct serialization
	// through the worker this should never be observed; treat a sighting
	// as a bug signal, not a retry target.
	ErrBusy = errors.New("driver: I/O busy")

	// ErrDisconnected is an I/O-level fault meaning the camera is gone.
	// Terminal for the session.
	ErrDisconnected = errors.New("driver: camera disconnected")

	// ErrKeyNotFound means the camera/firmware does not expose the
	// requested configuration key. The feature is unavailable; not a
	// retry target.
	ErrKeyNotFound = errors.New("driver: configuration key not found")
)

// IsDisconnect reports whether err indicates a lost camera session.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
