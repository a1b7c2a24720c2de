// Package migrate imports snapshots written by the first version of the
// consolidator (a dump of its browser localStorage) into the current store.
package migrate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kcons/kc/internal/analysis"
	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/discovery"
	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/storage"
)

// ErrInvalidSnapshot is returned when the input is not a JSON object.
var ErrInvalidSnapshot = errors.New("invalid v1 snapshot")

// Keys a V1 snapshot may use for each section, in priority order.
var (
	fileKeys     = []string{"files", "kc_files"}
	categoryKeys = []string{"categories", "kc_categories", "customCategories"}
	settingsKeys = []string{"settings", "kc_settings"}
	flagKeys     = []string{"featureFlags", "kc_feature_flags"}
)

// Store is implemented by storage.Store.
type Store interface {
	UpsertFile(f storage.FileRecord) (storage.UpsertResult, error)
	SaveAnalysis(id string, a storage.Analysis, relevance float64) error
}

// CategoryManager is implemented by categories.Manager.
type CategoryManager interface {
	Create(name, color, icon string) (storage.Category, error)
	Ensure(name string) (storage.Category, error)
	Assign(fileID, cat string) ([]string, error)
}

// StateStore is implemented by state.State.
type StateStore interface {
	Set(path string, value any) error
	SetFlag(name string, enabled bool)
	Persist() error
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Report summarises an import. It is the IMPORT_COMPLETED payload.
type Report struct {
	Files      int      `json:"files"`
	Categories int      `json:"categories"`
	Analyses   int      `json:"analyses"`
	Settings   int      `json:"settings"`
	Flags      int      `json:"flags"`
	Skipped    int      `json:"skipped"`
	Warnings   []string `json:"warnings"`
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Importer translates V1 snapshots.
type Importer struct {
	store  Store
	cats   CategoryManager
	state  StateStore
	bus    Emitter
	logger *slog.Logger
}

// NewImporter creates an Importer. state and bus may be nil.
func NewImporter(store Store, cats CategoryManager, state StateStore, bus Emitter) *Importer {
	return &Importer{store: store, cats: cats, state: state, bus: bus, logger: slog.Default()}
}

// Import reads a V1 snapshot. Malformed entries are skipped and reported in
// Report.Warnings; only an unreadable snapshot or a store failure is an error.
func (im *Importer) Import(data []byte) (Report, error) {
	rep := Report{Warnings: []string{}}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return rep, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	catNames := make(map[string]string)
	for _, key := range categoryKeys {
		if raw, ok := top[key]; ok {
			if err := im.importCategories(unwrap(raw), catNames, &rep); err != nil {
				return rep, err
			}
		}
	}

	if raw, ok := first(top, fileKeys); ok {
		if err := im.importFiles(unwrap(raw), catNames, &rep); err != nil {
			return rep, err
		}
	}

	if im.state != nil {
		if raw, ok := first(top, settingsKeys); ok {
			im.importSettings(unwrap(raw), &rep)
		}
		if raw, ok := first(top, flagKeys); ok {
			im.importFlags(unwrap(raw), &rep)
		}
		if rep.Settings > 0 || rep.Flags > 0 {
			if err := im.state.Persist(); err != nil {
				return rep, err
			}
		}
	}

	im.logger.Info("v1 import finished", "files", rep.Files, "categories", rep.Categories,
		"skipped", rep.Skipped, "warnings", len(rep.Warnings))
	if im.bus != nil {
		im.bus.Emit(eventbus.ImportCompleted, rep)
	}
	return rep, nil
}

func (im *Importer) importCategories(raw json.RawMessage, names map[string]string, rep *Report) error {
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		rep.warn("categories: expected a list: %v", err)
		return nil
	}
	for i, item := range list {
		var id, name, color, icon string
		switch v := item.(type) {
		case string:
			name = v
		case map[string]any:
			id, name, color, icon = str(v, "id"), str(v, "name", "nome"), str(v, "color", "cor"), str(v, "icon")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			rep.warn("categories[%d]: no name", i)
			continue
		}
		c, err := im.cats.Create(name, color, icon)
		switch {
		case errors.Is(err, categories.ErrDuplicate):
			if c, err = im.cats.Ensure(name); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("importing category %q: %w", name, err)
		default:
			rep.Categories++
		}
		names[key(name)] = c.Name
		if id != "" {
			names[key(id)] = c.Name
		}
	}
	return nil
}

func (im *Importer) importFiles(raw json.RawMessage, catNames map[string]string, rep *Report) error {
	entries, err := fileEntries(raw)
	if err != nil {
		rep.warn("files: %v", err)
		return nil
	}

	var scores []float64
	for _, m := range entries {
		if v, ok := num(m, "relevanceScore", "relevance", "score"); ok && v > 0 {
			scores = append(scores, v)
		}
	}
	scale := relevanceScale(scores)

	for i, m := range entries {
		rec, ok := fileRecord(m, scale)
		if !ok {
			rep.Skipped++
			rep.warn("files[%d]: no path or name", i)
			continue
		}
		if _, err := im.store.UpsertFile(rec); err != nil {
			return fmt.Errorf("importing %s: %w", rec.Path, err)
		}
		rep.Files++

		for _, name := range categoryNames(m["categories"], catNames) {
			if _, err := im.cats.Ensure(name); err != nil {
				return err
			}
			if _, err := im.cats.Assign(rec.ID, name); err != nil {
				rep.warn("%s: assigning %q: %v", rec.Name, name, err)
			}
		}

		if a, ok := fileAnalysis(m, rec); ok {
			if err := im.store.SaveAnalysis(rec.ID, a, rec.RelevanceScore); err != nil {
				return fmt.Errorf("importing analysis of %s: %w", rec.Name, err)
			}
			rep.Analyses++
		}
	}
	return nil
}

func (im *Importer) importSettings(raw json.RawMessage, rep *Report) {
	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		rep.warn("settings: expected an object: %v", err)
		return
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := im.state.Set("settings."+k, settings[k]); err != nil {
			rep.warn("settings.%s: %v", k, err)
			continue
		}
		rep.Settings++
	}
}

func (im *Importer) importFlags(raw json.RawMessage, rep *Report) {
	var flags map[string]any
	if err := json.Unmarshal(raw, &flags); err != nil {
		rep.warn("featureFlags: expected an object: %v", err)
		return
	}
	for name, v := range flags {
		on, ok := v.(bool)
		if !ok {
			if m, isMap := v.(map[string]any); isMap {
				on, ok = m["enabled"].(bool)
			}
		}
		if !ok {
			rep.warn("featureFlags.%s: not a boolean", name)
			continue
		}
		im.state.SetFlag(name, on)
		rep.Flags++
	}
}

// unwrap decodes values that localStorage stored as JSON strings.
func unwrap(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return raw
	}
	return json.RawMessage(inner)
}

func first(top map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := top[k]; ok {
			return raw, true
		}
	}
	return nil, false
}

// fileEntries accepts a list of files or an object keyed by file id.
func fileEntries(raw json.RawMessage) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var byID map[string]map[string]any
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, errors.New("expected a list or an object of files")
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		m := byID[id]
		if str(m, "id") == "" {
			m["id"] = id
		}
		out = append(out, m)
	}
	return out, nil
}

// relevanceScale returns 100 when every non-zero score in the snapshot is
// at most 1, meaning the snapshot stored fractions.
func relevanceScale(scores []float64) float64 {
	if len(scores) == 0 {
		return 1
	}
	for _, s := range scores {
		if s > 1 {
			return 1
		}
	}
	return 100
}

func fileRecord(m map[string]any, scale float64) (storage.FileRecord, bool) {
	name := str(m, "name", "fileName")
	p := str(m, "path", "filePath", "relativePath", "webkitRelativePath")
	if p == "" {
		p = name
	}
	if p == "" {
		return storage.FileRecord{}, false
	}
	if name == "" {
		name = path.Base(p)
	}
	content := str(m, "content", "text")

	rec := storage.FileRecord{
		ID:           discovery.FileID(p),
		Name:         name,
		Path:         p,
		RelPath:      strings.TrimPrefix(p, "/"),
		Extension:    strings.ToLower(path.Ext(name)),
		Content:      content,
		Preview:      str(m, "preview", "smartPreview"),
		ContentHash:  str(m, "hash", "contentHash"),
		ModifiedAt:   timestamp(m, "lastModified", "modified", "modifiedAt", "dateModified"),
		DiscoveredAt: timestamp(m, "discoveredAt", "createdAt", "addedAt"),
	}
	if size, ok := num(m, "size"); ok {
		rec.Size = int64(size)
	} else {
		rec.Size = int64(len(content))
	}
	if rec.ContentHash == "" {
		sum := sha256.Sum256([]byte(p + "\x00" + content))
		rec.ContentHash = hex.EncodeToString(sum[:])
	}
	if v, ok := num(m, "relevanceScore", "relevance", "score"); ok {
		rec.RelevanceScore = math.Round(math.Max(0, math.Min(100, v*scale))*10) / 10
	}
	if rec.Preview == "" && content != "" {
		rec.Preview = firstRunes(content, 500)
	}
	return rec, true
}

// fileAnalysis converts analysisResult or analysis through the same
// normalizer used for provider output.
func fileAnalysis(m map[string]any, rec storage.FileRecord) (storage.Analysis, bool) {
	var raw any
	for _, k := range []string{"analysisResult", "analysis"} {
		if v, ok := m[k]; ok && v != nil {
			raw = v
			break
		}
	}
	analyzed, _ := m["analyzed"].(bool)
	if raw == nil && !analyzed {
		return storage.Analysis{}, false
	}

	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case nil:
		text = ""
	default:
		b, _ := json.Marshal(v)
		text = string(b)
	}
	a := analysis.Normalize("v1", text)
	if t := analysis.CanonicalType(str(m, "analysisType")); t != "" {
		a.AnalysisType = t
	}
	if at := timestamp(m, "analyzedAt", "analysisDate"); !at.IsZero() {
		a.AnalyzedAt = at
	} else if !rec.ModifiedAt.IsZero() {
		a.AnalyzedAt = rec.ModifiedAt
	}
	return a, true
}

// categoryNames resolves names, {id,name} objects and bare ids.
func categoryNames(v any, known map[string]string) []string {
	list, _ := v.([]any)
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if canonical, ok := known[key(s)]; ok {
			s = canonical
		}
		if !seen[key(s)] {
			seen[key(s)] = true
			out = append(out, s)
		}
	}
	for _, item := range list {
		switch c := item.(type) {
		case string:
			add(c)
		case map[string]any:
			if name := str(c, "name", "nome"); name != "" {
				add(name)
			} else {
				add(str(c, "id"))
			}
		}
	}
	return out
}

// key is the lookup key for category names and ids.
func key(s string) string { return categories.Normalize(s) }

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// timestamp reads epoch milliseconds or an RFC3339-like string.
func timestamp(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			if v > 0 {
				return time.UnixMilli(int64(v)).UTC()
			}
		case string:
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
				return time.UnixMilli(ms).UTC()
			}
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t.UTC()
				}
			}
		}
	}
	return time.Time{}
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
