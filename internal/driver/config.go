package driver

import (
	"fmt"
	"maps"
)

// Config is a whole-camera configuration snapshot. Mutate it locally and
// write it back with Session.SetConfig; the driver's configuration tree
// may reject unions of changes made against different snapshots.
type Config struct {
	values map[string]string
}

// NewConfig builds a snapshot from the given key/value set.
// Implementations call this; the worker only reads and mutates.
func NewConfig(values map[string]string) *Config {
	c := &Config{values: make(map[string]string, len(values))}
	maps.Copy(c.values, values)
	return c
}

// Get returns the value for key, or ErrKeyNotFound if the camera does not
// expose it.
func (c *Config) Get(key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

// Set updates the value for an existing key. Unknown keys are rejected with
// ErrKeyNotFound so unsupported features fail at command construction time.
func (c *Config) Set(key, value string) error {
	if _, ok := c.values[key]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	c.values[key] = value
	return nil
}

// Has reports whether the snapshot contains key.
func (c *Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Values returns a copy of the underlying key/value set.
func (c *Config) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	maps.Copy(out, c.values)
	return out
}
