package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/storage"
)

// Store persists presets. Implemented by storage.Store.
type Store interface {
	SavePreset(p storage.FilterPreset) error
	GetPreset(name string) (storage.FilterPreset, error)
	ListPresets() ([]storage.FilterPreset, error)
	DeletePreset(name string) error
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Preset is a named set of criteria.
type Preset struct {
	Name      string    `json:"name"`
	Criteria  Criteria  `json:"criteria"`
	CreatedAt time.Time `json:"createdAt"`
}

// Applied is the FILES_FILTERED payload.
type Applied struct {
	Criteria Criteria `json:"criteria"`
	Total    int      `json:"total"`
	Counts   Counts   `json:"counts"`
}

// Manager applies criteria and manages presets.
type Manager struct {
	store Store
	bus   Emitter
	now   func() time.Time
}

func NewManager(store Store, bus Emitter) *Manager {
	return &Manager{store: store, bus: bus, now: time.Now}
}

// Apply filters files and emits FILES_FILTERED.
func (m *Manager) Apply(files []storage.FileRecord, c Criteria) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	res := Apply(files, c, m.now())
	if m.bus != nil {
		m.bus.Emit(eventbus.FilesFiltered, Applied{Criteria: c, Total: res.Total, Counts: res.Counts})
	}
	return res, nil
}

// SavePreset validates and stores c under name, replacing any existing preset.
func (m *Manager) SavePreset(name string, c Criteria) (Preset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Preset{}, fmt.Errorf("preset name is empty")
	}
	if err := c.Validate(); err != nil {
		return Preset{}, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return Preset{}, err
	}
	p := storage.FilterPreset{Name: name, CriteriaJSON: string(data), CreatedAt: m.now()}
	if err := m.store.SavePreset(p); err != nil {
		return Preset{}, fmt.Errorf("saving preset: %w", err)
	}
	return Preset{Name: name, Criteria: c, CreatedAt: p.CreatedAt}, nil
}

func (m *Manager) Preset(name string) (Preset, error) {
	p, err := m.store.GetPreset(name)
	if err != nil {
		return Preset{}, err
	}
	return decodePreset(p)
}

func (m *Manager) Presets() ([]Preset, error) {
	stored, err := m.store.ListPresets()
	if err != nil {
		return nil, err
	}
	out := make([]Preset, 0, len(stored))
	for _, p := range stored {
		dp, err := decodePreset(p)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	return out, nil
}

func (m *Manager) DeletePreset(name string) error {
	return m.store.DeletePreset(name)
}

func decodePreset(p storage.FilterPreset) (Preset, error) {
	var c Criteria
	if err := json.Unmarshal([]byte(p.CriteriaJSON), &c); err != nil {
		return Preset{}, fmt.Errorf("decoding preset %q: %w", p.Name, err)
	}
	return Preset{Name: p.Name, Criteria: c, CreatedAt: p.CreatedAt}, nil
}
