//go:build linux

package homestage

import "github.com/sirupsen/logrus"

// Configuration keys consulted by [Gate].
const (
	KeyMountHome       = "mount home"
	KeyUserBindControl = "user bind control"
)

// ConfigStore is the administrator configuration backing a [Gate].
//
// Rewind resets any read state so the next Bool sees the whole store again.
// Bool returns def when key is absent or not a boolean.
type ConfigStore interface {
	Rewind() error
	Bool(key string, def bool) bool
}

// MountPolicy is a snapshot of the two switches that govern home mounting.
type MountPolicy struct {
	MountHomeEnabled       bool
	UserBindControlEnabled bool
}

// Gate answers policy questions against a ConfigStore. Every call rewinds
// and reads independently; nothing is cached between calls.
type Gate struct {
	store ConfigStore
	log   logrus.FieldLogger
}

// NewGate returns a Gate reading from store.
func NewGate(store ConfigStore, log logrus.FieldLogger) *Gate {
	if log == nil {
		log = discardLogger()
	}

	return &Gate{store: store, log: log}
}

// HomeMountEnabled reports whether home directories are mounted at all.
// Defaults to true.
func (g *Gate) HomeMountEnabled() bool {
	return g.read(KeyMountHome, true)
}

// UserBindControlEnabled reports whether users may choose their own home
// source. Defaults to true.
func (g *Gate) UserBindControlEnabled() bool {
	return g.read(KeyUserBindControl, true)
}

// Snapshot reads both switches.
func (g *Gate) Snapshot() MountPolicy {
	return MountPolicy{
		MountHomeEnabled:       g.HomeMountEnabled(),
		UserBindControlEnabled: g.UserBindControlEnabled(),
	}
}

func (g *Gate) read(key string, def bool) bool {
	err := g.store.Rewind()
	if err != nil {
		g.log.WithError(err).WithField("key", key).Warn("rewinding config store, using last loaded values")
	}

	return g.store.Bool(key, def)
}

// MapConfig is an in-memory ConfigStore. Rewind is a no-op.
type MapConfig map[string]bool

// Rewind implements ConfigStore.
func (MapConfig) Rewind() error { return nil }

// Bool implements ConfigStore.
func (m MapConfig) Bool(key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}

	return v
}
