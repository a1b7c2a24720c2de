package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned when a write would violate a uniqueness rule.
var ErrConflict = errors.New("conflict")

const categorySelect = `SELECT c.id, c.name, c.color, c.icon, c.created_at,
	(SELECT COUNT(*) FROM file_categories fc WHERE fc.category_id = c.id)
	FROM categories c`

// CreateCategory inserts a category. normName is the caller's normalized
// form of the name and must be unique across categories.
func (s *Store) CreateCategory(c Category, normName string) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM categories WHERE norm_name = ?`, normName).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("category %q: %w", c.Name, ErrConflict)
	}
	if _, err := tx.Exec(`INSERT INTO categories (id, name, norm_name, color, icon, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, normName, c.Color, c.Icon, formatTime(created)); err != nil {
		return fmt.Errorf("inserting category %q: %w", c.Name, err)
	}
	return tx.Commit()
}

// GetCategory returns a category by id.
func (s *Store) GetCategory(id string) (Category, error) {
	return s.scanOneCategory(s.db.QueryRow(categorySelect+` WHERE c.id = ?`, id))
}

// GetCategoryByNormName returns a category by its normalized name.
func (s *Store) GetCategoryByNormName(normName string) (Category, error) {
	return s.scanOneCategory(s.db.QueryRow(categorySelect+` WHERE c.norm_name = ?`, normName))
}

// ListCategories returns all categories with usage counts, ordered by name.
func (s *Store) ListCategories() ([]Category, error) {
	rows, err := s.db.Query(categorySelect + ` ORDER BY c.name COLLATE NOCASE ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCategory renames or restyles a category.
func (s *Store) UpdateCategory(c Category, normName string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var clash int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM categories WHERE norm_name = ? AND id != ?`, normName, c.ID).Scan(&clash); err != nil {
		return err
	}
	if clash > 0 {
		return fmt.Errorf("category %q: %w", c.Name, ErrConflict)
	}
	res, err := tx.Exec(`UPDATE categories SET name = ?, norm_name = ?, color = ?, icon = ? WHERE id = ?`,
		c.Name, normName, c.Color, c.Icon, c.ID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteCategory removes a category and all of its assignments.
func (s *Store) DeleteCategory(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_categories WHERE category_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignCategory links a file to a category. Assigning twice is a no-op.
func (s *Store) AssignCategory(fileID, categoryID string) error {
	if err := s.requireRow(`SELECT COUNT(*) FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("file %s: %w", fileID, err)
	}
	if err := s.requireRow(`SELECT COUNT(*) FROM categories WHERE id = ?`, categoryID); err != nil {
		return fmt.Errorf("category %s: %w", categoryID, err)
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO file_categories (file_id, category_id, assigned_at) VALUES (?, ?, ?)`,
		fileID, categoryID, formatTime(time.Now()))
	return err
}

// UnassignCategory removes a file/category link if present.
func (s *Store) UnassignCategory(fileID, categoryID string) error {
	_, err := s.db.Exec(`DELETE FROM file_categories WHERE file_id = ? AND category_id = ?`, fileID, categoryID)
	return err
}

// FileCategoryNames returns the category names assigned to a file, ordered by name.
func (s *Store) FileCategoryNames(fileID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT c.name FROM file_categories fc
		JOIN categories c ON c.id = fc.category_id
		WHERE fc.file_id = ? ORDER BY c.name COLLATE NOCASE`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) allFileCategoryNames() (map[string][]string, error) {
	rows, err := s.db.Query(`SELECT fc.file_id, c.name FROM file_categories fc
		JOIN categories c ON c.id = fc.category_id ORDER BY c.name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var fileID, name string
		if err := rows.Scan(&fileID, &name); err != nil {
			return nil, err
		}
		out[fileID] = append(out[fileID], name)
	}
	return out, rows.Err()
}

func (s *Store) requireRow(query string, args ...any) error {
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanOneCategory(row *sql.Row) (Category, error) {
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return Category{}, ErrNotFound
	}
	return c, err
}

func scanCategory(row rowScanner) (Category, error) {
	var c Category
	var created string
	if err := row.Scan(&c.ID, &c.Name, &c.Color, &c.Icon, &created, &c.UsageCount); err != nil {
		return Category{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return Category{}, fmt.Errorf("parsing created_at for category %s: %w", c.ID, err)
	}
	return c, nil
}
