// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update propagation.
// Listener dispatch is synchronous and serialized: two overlapping updates
// to the same key reach every listener in merge order, which lets a
// listener drive strictly ordered side effects such as pool resizes.

package control

import (
	"sort"
	"sync"
)

// Listener observes one applied configuration change.
type Listener func(key string, value any)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener
// support.
type ConfigStore struct {
	// updateMu is held across merge plus notification, so listeners see
	// updates in the order they were applied.
	updateMu sync.Mutex

	mu        sync.RWMutex
	config    map[string]any
	listeners []Listener
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns one config value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// GetInt reads a numeric config value, coercing the common integer
// spellings (int, int64, float64 and friends).
func (cs *ConfigStore) GetInt(key string) (int, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// AsInt coerces a config value into an int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Set applies a single key update and notifies listeners.
func (cs *ConfigStore) Set(key string, value any) {
	cs.SetConfig(map[string]any{key: value})
}

// SetConfig merges new values and notifies listeners once per changed key,
// in sorted key order. The call returns after every listener has run.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.updateMu.Lock()
	defer cs.updateMu.Unlock()

	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := make([]Listener, len(cs.listeners))
	copy(listeners, cs.listeners)
	cs.mu.Unlock()

	keys := make([]string, 0, len(newCfg))
	for k := range newCfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, fn := range listeners {
			fn(k, newCfg[k])
		}
	}
}

// OnUpdate registers a listener invoked for every applied change.
func (cs *ConfigStore) OnUpdate(fn Listener) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
