package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const fileColumns = `id, path, name, rel_path, extension, size, modified_at, discovered_at, content_hash,
	duplicate_of, preview, extract_error, relevance_score, analyzed, analysis_type, analysis_json, analyzed_at`

// UpsertResult reports what UpsertFile did.
type UpsertResult struct {
	Created        bool
	ContentChanged bool
}

// UpsertFile inserts a file or refreshes an existing one with the same path.
// The stored analysis survives a refresh only when the content hash is unchanged.
func (s *Store) UpsertFile(f FileRecord) (UpsertResult, error) {
	var res UpsertResult

	tx, err := s.db.Begin()
	if err != nil {
		return res, fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	var oldHash string
	err = tx.QueryRow(`SELECT content_hash FROM files WHERE path = ?`, f.Path).Scan(&oldHash)
	switch {
	case err == sql.ErrNoRows:
		res.Created = true
		res.ContentChanged = true
	case err != nil:
		return res, fmt.Errorf("looking up %s: %w", f.Path, err)
	default:
		res.ContentChanged = oldHash != f.ContentHash
	}

	discovered := f.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO files (id, path, name, rel_path, extension, size, modified_at, discovered_at, content_hash,
			duplicate_of, content, preview, extract_error, relevance_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			rel_path = excluded.rel_path,
			extension = excluded.extension,
			size = excluded.size,
			modified_at = excluded.modified_at,
			content_hash = excluded.content_hash,
			duplicate_of = excluded.duplicate_of,
			content = excluded.content,
			preview = excluded.preview,
			extract_error = excluded.extract_error,
			relevance_score = CASE WHEN files.content_hash = excluded.content_hash AND files.analyzed = 1
				THEN files.relevance_score ELSE excluded.relevance_score END,
			analyzed = CASE WHEN files.content_hash = excluded.content_hash THEN files.analyzed ELSE 0 END,
			analysis_type = CASE WHEN files.content_hash = excluded.content_hash THEN files.analysis_type ELSE '' END,
			analysis_json = CASE WHEN files.content_hash = excluded.content_hash THEN files.analysis_json ELSE '' END,
			analyzed_at = CASE WHEN files.content_hash = excluded.content_hash THEN files.analyzed_at ELSE '' END`,
		f.ID, f.Path, f.Name, f.RelPath, f.Extension, f.Size, formatTime(f.ModifiedAt), formatTime(discovered),
		f.ContentHash, f.DuplicateOf, f.Content, f.Preview, f.ExtractError, f.RelevanceScore,
	)
	if err != nil {
		return res, fmt.Errorf("upserting %s: %w", f.Path, err)
	}
	return res, tx.Commit()
}

// GetFile returns a file with its content and category names.
func (s *Store) GetFile(id string) (FileRecord, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+`, content FROM files WHERE id = ?`, id)
	f, err := scanFile(row, true)
	if err == sql.ErrNoRows {
		return FileRecord{}, ErrNotFound
	}
	if err != nil {
		return FileRecord{}, err
	}
	cats, err := s.FileCategoryNames(id)
	if err != nil {
		return FileRecord{}, err
	}
	f.Categories = cats
	return f, nil
}

// FindFileByHash returns the oldest file with the given content hash that
// is not itself marked as a duplicate.
func (s *Store) FindFileByHash(hash string) (FileRecord, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files
		WHERE content_hash = ? AND duplicate_of = ''
		ORDER BY discovered_at ASC, id ASC LIMIT 1`, hash)
	f, err := scanFile(row, false)
	if err == sql.ErrNoRows {
		return FileRecord{}, ErrNotFound
	}
	return f, err
}

// ListOptions controls ListFiles paging. Limit <= 0 means no limit.
type ListOptions struct {
	Limit       int
	Offset      int
	WithContent bool
}

// ListFiles returns files ordered by relevance (desc) then modification time (desc).
func (s *Store) ListFiles(opts ListOptions) ([]FileRecord, error) {
	cols := fileColumns
	if opts.WithContent {
		cols += ", content"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+cols+` FROM files
		ORDER BY relevance_score DESC, modified_at DESC LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		f, err := scanFile(rows, opts.WithContent)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assignments, err := s.allFileCategoryNames()
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Categories = assignments[files[i].ID]
		if files[i].Categories == nil {
			files[i].Categories = []string{}
		}
	}
	return files, nil
}

// CountFiles returns the number of stored files.
func (s *Store) CountFiles() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

// SaveAnalysis stores a normalized analysis and the resulting relevance score.
func (s *Store) SaveAnalysis(id string, a Analysis, relevance float64) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling analysis: %w", err)
	}
	at := a.AnalyzedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.Exec(`UPDATE files SET analyzed = 1, analysis_type = ?, analysis_json = ?, analyzed_at = ?, relevance_score = ?
		WHERE id = ?`, a.AnalysisType, string(data), formatTime(at), relevance, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SetRelevance overrides a file's relevance score.
func (s *Store) SetRelevance(id string, score float64) error {
	res, err := s.db.Exec(`UPDATE files SET relevance_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// DeleteFile removes a file and its category assignments.
func (s *Store) DeleteFile(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_categories WHERE file_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM jobs WHERE file_id = ? AND status IN (?, ?)`, id, JobPending, JobFailed); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner, withContent bool) (FileRecord, error) {
	var f FileRecord
	var modifiedAt, discoveredAt, analysisJSON, analyzedAt string
	var analyzed int
	dest := []any{
		&f.ID, &f.Path, &f.Name, &f.RelPath, &f.Extension, &f.Size, &modifiedAt, &discoveredAt, &f.ContentHash,
		&f.DuplicateOf, &f.Preview, &f.ExtractError, &f.RelevanceScore, &analyzed, &f.AnalysisType, &analysisJSON, &analyzedAt,
	}
	if withContent {
		dest = append(dest, &f.Content)
	}
	if err := row.Scan(dest...); err != nil {
		return FileRecord{}, err
	}

	var err error
	if f.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return FileRecord{}, fmt.Errorf("parsing modified_at for %s: %w", f.ID, err)
	}
	if f.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
		return FileRecord{}, fmt.Errorf("parsing discovered_at for %s: %w", f.ID, err)
	}
	if f.AnalyzedAt, err = parseTime(analyzedAt); err != nil {
		return FileRecord{}, fmt.Errorf("parsing analyzed_at for %s: %w", f.ID, err)
	}
	f.Analyzed = analyzed == 1
	if analysisJSON != "" {
		var a Analysis
		if err := json.Unmarshal([]byte(analysisJSON), &a); err != nil {
			return FileRecord{}, fmt.Errorf("decoding analysis for %s: %w", f.ID, err)
		}
		f.Analysis = &a
	}
	return f, nil
}
