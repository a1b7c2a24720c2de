// Package state holds the observable application state tree.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/storage"
)

const (
	stateKey = "app_state"
	flagsKey = "feature_flags"
)

// Store is the persistence the state needs. Implemented by storage.Store.
type Store interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Change is the STATE_CHANGED payload.
type Change struct {
	Path string `json:"path"`
	Old  any    `json:"old"`
	New  any    `json:"new"`
}

// State is a tree of values addressed by dotted paths such as
// "settings.theme" or "filters.relevance". Safe for concurrent use.
type State struct {
	store Store
	bus   Emitter

	mu    sync.RWMutex
	tree  map[string]any
	flags map[string]bool
}

// New creates an empty State. store and bus may be nil.
func New(store Store, bus Emitter) *State {
	return &State{
		store: store,
		bus:   bus,
		tree:  make(map[string]any),
		flags: make(map[string]bool),
	}
}

// Get returns the value at path.
func (s *State) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := lookup(s.tree, splitPath(path))
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Set stores value at path, creating intermediate nodes. A scalar on the
// way is replaced by a node. Setting an equal value is a no-op.
func (s *State) Set(path string, value any) error {
	keys := splitPath(path)
	if len(keys) == 0 {
		return errors.New("empty state path")
	}
	value = normalize(value)

	s.mu.Lock()
	old, existed := lookup(s.tree, keys)
	if existed && reflect.DeepEqual(old, value) {
		s.mu.Unlock()
		return nil
	}
	node := s.tree
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[k] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = value
	s.mu.Unlock()

	s.emit(Change{Path: path, Old: old, New: deepCopy(value)})
	return nil
}

// Delete removes the value at path. Missing paths are ignored.
func (s *State) Delete(path string) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}

	s.mu.Lock()
	node := s.tree
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			s.mu.Unlock()
			return
		}
		node = next
	}
	last := keys[len(keys)-1]
	old, ok := node[last]
	delete(node, last)
	s.mu.Unlock()

	if ok {
		s.emit(Change{Path: path, Old: old, New: nil})
	}
}

// Snapshot returns a deep copy of the whole tree.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.tree).(map[string]any)
}

// Flag reports whether a feature flag is enabled.
func (s *State) Flag(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// SetFlag toggles a feature flag.
func (s *State) SetFlag(name string, enabled bool) {
	s.mu.Lock()
	old := s.flags[name]
	s.flags[name] = enabled
	s.mu.Unlock()
	if old != enabled {
		s.emit(Change{Path: "featureFlags." + name, Old: old, New: enabled})
	}
}

// Flags returns a copy of all feature flags.
func (s *State) Flags() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

// Persist writes the tree and the flags to the settings table.
func (s *State) Persist() error {
	if s.store == nil {
		return nil
	}
	s.mu.RLock()
	tree, treeErr := json.Marshal(s.tree)
	flags, flagsErr := json.Marshal(s.flags)
	s.mu.RUnlock()
	if err := errors.Join(treeErr, flagsErr); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	if err := s.store.SetSetting(stateKey, string(tree)); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	if err := s.store.SetSetting(flagsKey, string(flags)); err != nil {
		return fmt.Errorf("saving flags: %w", err)
	}
	return nil
}

// Load replaces the in-memory tree and flags with the persisted ones.
// A store with nothing persisted leaves the state empty.
func (s *State) Load() error {
	if s.store == nil {
		return nil
	}
	tree := make(map[string]any)
	flags := make(map[string]bool)

	if raw, err := s.store.GetSetting(stateKey); err == nil {
		if err := json.Unmarshal([]byte(raw), &tree); err != nil {
			return fmt.Errorf("decoding state: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if raw, err := s.store.GetSetting(flagsKey); err == nil {
		if err := json.Unmarshal([]byte(raw), &flags); err != nil {
			return fmt.Errorf("decoding flags: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	s.tree = tree
	s.flags = flags
	s.mu.Unlock()
	return nil
}

func (s *State) emit(c Change) {
	if s.bus != nil {
		s.bus.Emit(eventbus.StateChanged, c)
	}
}

func splitPath(path string) []string {
	var keys []string
	for _, k := range strings.Split(path, ".") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func lookup(tree map[string]any, keys []string) (any, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	var cur any = tree
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize round-trips composite values through JSON so the tree only
// holds JSON-shaped data (maps, slices, float64, string, bool, nil).
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
