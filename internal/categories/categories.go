// Package categories manages user-defined labels and their assignment to files.
package categories

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/storage"
)

// ErrDuplicate is returned when a name collides with an existing category
// after normalization.
var ErrDuplicate = errors.New("category already exists")

// ErrEmptyName is returned for blank category names.
var ErrEmptyName = errors.New("category name is empty")

// Defaults are created on first start.
var Defaults = []storage.Category{
	{Name: "Técnico", Color: "#4f46e5", Icon: "🔧"},
	{Name: "Estratégico", Color: "#059669", Icon: "🎯"},
	{Name: "Conceitual", Color: "#d97706", Icon: "💡"},
	{Name: "Decisivo", Color: "#dc2626", Icon: "⚡"},
	{Name: "Insight", Color: "#7c3aed", Icon: "✨"},
	{Name: "Aprendizado", Color: "#0891b2", Icon: "📚"},
}

// Store is the persistence the manager needs. Implemented by storage.Store.
type Store interface {
	CreateCategory(c storage.Category, normName string) error
	UpdateCategory(c storage.Category, normName string) error
	GetCategory(id string) (storage.Category, error)
	GetCategoryByNormName(normName string) (storage.Category, error)
	ListCategories() ([]storage.Category, error)
	DeleteCategory(id string) error
	AssignCategory(fileID, categoryID string) error
	UnassignCategory(fileID, categoryID string) error
	FileCategoryNames(fileID string) ([]string, error)
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Change is the CATEGORIES_CHANGED payload.
type Change struct {
	Action   string           `json:"action"` // created, updated, deleted
	Category storage.Category `json:"category"`
}

// Assignment is the CATEGORY_ASSIGNED payload.
type Assignment struct {
	FileID     string   `json:"fileId"`
	CategoryID string   `json:"categoryId"`
	Assigned   bool     `json:"assigned"`
	Categories []string `json:"categories"`
}

// Manager applies category rules on top of the store and emits events.
type Manager struct {
	store Store
	bus   Emitter
}

func NewManager(store Store, bus Emitter) *Manager {
	return &Manager{store: store, bus: bus}
}

var caseFold = cases.Fold()

// Normalize folds a category name for comparison: whitespace collapsed,
// diacritics stripped and Unicode case-folded. "  Técnico " and "tecnico"
// normalize equally, as do "Straße" and "STRASSE".
func Normalize(name string) string {
	s := strings.Join(strings.Fields(name), " ")
	// transform.Chain keeps state, so each call builds its own.
	stripDiacritics := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		stripped = s
	}
	return caseFold.String(stripped)
}

// SeedDefaults creates any default category that does not exist yet.
func (m *Manager) SeedDefaults() error {
	for _, c := range Defaults {
		if _, _, err := m.ensure(c); err != nil {
			return err
		}
	}
	return nil
}

// Create adds a category. Names equal under Normalize are rejected with
// ErrDuplicate.
func (m *Manager) Create(name, color, icon string) (storage.Category, error) {
	c := storage.Category{
		ID:        uuid.New().String(),
		Name:      strings.Join(strings.Fields(name), " "),
		Color:     color,
		Icon:      icon,
		CreatedAt: time.Now(),
	}
	if c.Name == "" {
		return storage.Category{}, ErrEmptyName
	}
	if err := m.store.CreateCategory(c, Normalize(c.Name)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.Category{}, fmt.Errorf("%q: %w", c.Name, ErrDuplicate)
		}
		return storage.Category{}, err
	}
	m.emit(eventbus.CategoriesChanged, Change{Action: "created", Category: c})
	return c, nil
}

// Ensure returns the category matching name, creating it when missing.
func (m *Manager) Ensure(name string) (storage.Category, error) {
	c, _, err := m.ensure(storage.Category{Name: name})
	return c, err
}

func (m *Manager) ensure(c storage.Category) (storage.Category, bool, error) {
	existing, err := m.store.GetCategoryByNormName(Normalize(c.Name))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Category{}, false, err
	}
	created, err := m.Create(c.Name, c.Color, c.Icon)
	if errors.Is(err, ErrDuplicate) {
		// Lost a race with a concurrent create.
		existing, err = m.store.GetCategoryByNormName(Normalize(c.Name))
		return existing, false, err
	}
	return created, err == nil, err
}

// Lookup finds a category by id or, failing that, by name.
func (m *Manager) Lookup(idOrName string) (storage.Category, error) {
	c, err := m.store.GetCategory(idOrName)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return c, err
	}
	return m.store.GetCategoryByNormName(Normalize(idOrName))
}

func (m *Manager) List() ([]storage.Category, error) {
	cats, err := m.store.ListCategories()
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []storage.Category{}
	}
	return cats, nil
}

// Update is a partial update; nil fields are left unchanged.
type Update struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

func (m *Manager) Update(id string, u Update) (storage.Category, error) {
	c, err := m.store.GetCategory(id)
	if err != nil {
		return storage.Category{}, err
	}
	if u.Name != nil {
		c.Name = strings.Join(strings.Fields(*u.Name), " ")
		if c.Name == "" {
			return storage.Category{}, ErrEmptyName
		}
	}
	if u.Color != nil {
		c.Color = *u.Color
	}
	if u.Icon != nil {
		c.Icon = *u.Icon
	}
	if err := m.store.UpdateCategory(c, Normalize(c.Name)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.Category{}, fmt.Errorf("%q: %w", c.Name, ErrDuplicate)
		}
		return storage.Category{}, err
	}
	m.emit(eventbus.CategoriesChanged, Change{Action: "updated", Category: c})
	return c, nil
}

// Delete removes a category and every assignment to it.
func (m *Manager) Delete(id string) error {
	c, err := m.store.GetCategory(id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteCategory(id); err != nil {
		return err
	}
	m.emit(eventbus.CategoriesChanged, Change{Action: "deleted", Category: c})
	return nil
}

// Assign links a file to the category named or identified by cat. It is
// idempotent and returns the file's category names afterwards.
func (m *Manager) Assign(fileID, cat string) ([]string, error) {
	c, err := m.Lookup(cat)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", cat, err)
	}
	return m.setAssigned(fileID, c, true)
}

// Unassign removes a link if present.
func (m *Manager) Unassign(fileID, cat string) ([]string, error) {
	c, err := m.Lookup(cat)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", cat, err)
	}
	return m.setAssigned(fileID, c, false)
}

func (m *Manager) setAssigned(fileID string, c storage.Category, assigned bool) ([]string, error) {
	var err error
	if assigned {
		err = m.store.AssignCategory(fileID, c.ID)
	} else {
		err = m.store.UnassignCategory(fileID, c.ID)
	}
	if err != nil {
		return nil, err
	}
	names, err := m.store.FileCategoryNames(fileID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	m.emit(eventbus.CategoryAssigned, Assignment{FileID: fileID, CategoryID: c.ID, Assigned: assigned, Categories: names})
	return names, nil
}

// BulkAssign assigns cat to every file and returns how many succeeded.
// Errors for individual files are joined.
func (m *Manager) BulkAssign(fileIDs []string, cat string) (int, error) {
	c, err := m.Lookup(cat)
	if err != nil {
		return 0, fmt.Errorf("category %q: %w", cat, err)
	}
	var errs []error
	n := 0
	for _, id := range fileIDs {
		if _, err := m.setAssigned(id, c, true); err != nil {
			errs = append(errs, fmt.Errorf("file %s: %w", id, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Resolve maps free-form suggested names to existing category names. With
// create set, unknown names are created instead of dropped.
func (m *Manager) Resolve(names []string, create bool) ([]storage.Category, error) {
	var out []storage.Category
	seen := make(map[string]bool)
	for _, n := range names {
		key := Normalize(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		var c storage.Category
		var err error
		if create {
			c, err = m.Ensure(n)
		} else {
			c, err = m.store.GetCategoryByNormName(key)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Manager) emit(event string, payload any) {
	if m.bus != nil {
		m.bus.Emit(event, payload)
	}
}
