package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetSetting returns a stored setting value. Missing keys return ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

// SetSetting stores a setting value, replacing any previous one.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	return err
}

// SavePreset stores (or replaces) a named filter preset.
func (s *Store) SavePreset(p FilterPreset) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO filter_presets (name, criteria_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET criteria_json = excluded.criteria_json`,
		p.Name, p.CriteriaJSON, formatTime(created))
	return err
}

// GetPreset returns a preset by name.
func (s *Store) GetPreset(name string) (FilterPreset, error) {
	var p FilterPreset
	var created string
	err := s.db.QueryRow(`SELECT name, criteria_json, created_at FROM filter_presets WHERE name = ?`, name).
		Scan(&p.Name, &p.CriteriaJSON, &created)
	if err == sql.ErrNoRows {
		return FilterPreset{}, ErrNotFound
	}
	if err != nil {
		return FilterPreset{}, err
	}
	p.CreatedAt, err = parseTime(created)
	return p, err
}

// ListPresets returns all presets ordered by name.
func (s *Store) ListPresets() ([]FilterPreset, error) {
	rows, err := s.db.Query(`SELECT name, criteria_json, created_at FROM filter_presets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilterPreset
	for rows.Next() {
		var p FilterPreset
		var created string
		if err := rows.Scan(&p.Name, &p.CriteriaJSON, &created); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePreset removes a preset.
func (s *Store) DeletePreset(name string) error {
	res, err := s.db.Exec(`DELETE FROM filter_presets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// RecordExport appends an entry to the export history.
func (s *Store) RecordExport(e ExportEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO export_history (id, format, target, file_count, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, e.ID, e.Format, e.Target, e.FileCount, e.Detail, formatTime(created))
	if err != nil {
		return fmt.Errorf("recording export: %w", err)
	}
	return nil
}

// ExportHistory returns the most recent exports first. limit <= 0 returns all.
func (s *Store) ExportHistory(limit int) ([]ExportEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, format, target, file_count, detail, created_at
		FROM export_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExportEntry
	for rows.Next() {
		var e ExportEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Format, &e.Target, &e.FileCount, &e.Detail, &created); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
