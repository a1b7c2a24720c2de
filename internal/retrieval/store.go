package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunk vectors in the file_vectors table of the kc
// database. Search is an exact cosine scan; corpora of a few thousand
// documents stay well under a second.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore uses db as is. The storage migrations create file_vectors.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const vectorColumns = `id, file_id, chunk_index, text_chunk, embedding, categories, created_at`

func inList(n int) string {
	return "(?" + strings.Repeat(",?", n-1) + ")"
}

func encodeCategories(cats []string) (string, error) {
	if cats == nil {
		cats = []string{}
	}
	b, err := json.Marshal(cats)
	return string(b), err
}

func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_vectors (`+vectorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare vector insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		cats, err := encodeCategories(r.Categories)
		if err != nil {
			return err
		}
		at := r.CreatedAt
		if at.IsZero() {
			at = now
		}
		_, err = stmt.ExecContext(ctx, r.ID, r.FileID, r.ChunkIndex, r.TextChunk,
			encodeVector(r.Embedding), cats, at.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", r.ChunkIndex, r.FileID, err)
		}
	}
	return tx.Commit()
}

// SetCategories rewrites the category names stored on every chunk of a file.
func (s *SQLiteStore) SetCategories(ctx context.Context, fileID string, cats []string) error {
	enc, err := encodeCategories(cats)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE file_vectors SET categories = ? WHERE file_id = ?`, enc, fileID); err != nil {
		return fmt.Errorf("retagging chunks of %s: %w", fileID, err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, fileIDs []string) ([]ScoredRecord, error) {
	qnorm := norm(vector)
	if topK <= 0 || qnorm == 0 {
		return nil, nil
	}

	// Scan only ids and blobs; full rows are loaded for the winners.
	q := `SELECT id, embedding FROM file_vectors`
	args := make([]any, 0, len(fileIDs))
	if len(fileIDs) > 0 {
		q += ` WHERE file_id IN ` + inList(len(fileIDs))
		for _, id := range fileIDs {
			args = append(args, id)
		}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	best := newTopK(topK)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		if buf, err = decodeVectorInto(buf, blob); err != nil {
			return nil, fmt.Errorf("vector %s: %w", id, err)
		}
		best.offer(id, cosineWithNorm(vector, buf, qnorm))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}

	scores := best.scores()
	if len(scores) == 0 {
		return nil, nil
	}
	ids := make([]any, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	records, err := s.records(ctx, `SELECT `+vectorColumns+` FROM file_vectors WHERE id IN `+inList(len(ids)), ids...)
	if err != nil {
		return nil, fmt.Errorf("loading top chunks: %w", err)
	}

	out := make([]ScoredRecord, len(records))
	for i, r := range records {
		out[i] = ScoredRecord{Record: r, Score: scores[r.ID]}
	}
	slices.SortStableFunc(out, func(a, b ScoredRecord) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *SQLiteStore) ByFile(ctx context.Context, fileID string) ([]Record, error) {
	return s.records(ctx, `SELECT `+vectorColumns+` FROM file_vectors WHERE file_id = ? ORDER BY chunk_index`, fileID)
}

func (s *SQLiteStore) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_vectors WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) FileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_id FROM file_vectors ORDER BY file_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_vectors`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) records(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r             Record
			blob          []byte
			cats, created string
		)
		if err := rows.Scan(&r.ID, &r.FileID, &r.ChunkIndex, &r.TextChunk, &blob, &cats, &created); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if r.Embedding, err = decodeVectorInto(nil, blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(cats), &r.Categories); err != nil {
			return nil, fmt.Errorf("chunk %s categories: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("chunk %s created_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Vectors are stored as little-endian float32 blobs.

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// decodeVectorInto decodes b, reusing buf when it has room.
func decodeVectorInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes is not float32-aligned", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosineWithNorm is cosine similarity with |a| precomputed. Mismatched
// lengths and zero vectors score 0.
func cosineWithNorm(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if bb == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bb)))
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero or the lengths differ.
func Cosine(a, b []float32) float32 {
	return cosineWithNorm(a, b, norm(a))
}

type scoredID struct {
	id    string
	score float32
}

// topK keeps the k best scores seen; the root of the min-heap is the
// weakest survivor.
type topK struct {
	k int
	h scoredIDHeap
}

func newTopK(k int) *topK { return &topK{k: k} }

func (t *topK) offer(id string, score float32) {
	if len(t.h) < t.k {
		heap.Push(&t.h, scoredID{id, score})
		return
	}
	if score > t.h[0].score {
		t.h[0] = scoredID{id, score}
		heap.Fix(&t.h, 0)
	}
}

func (t *topK) scores() map[string]float32 {
	out := make(map[string]float32, len(t.h))
	for _, s := range t.h {
		out[s.id] = s.score
	}
	return out
}

type scoredIDHeap []scoredID

func (h scoredIDHeap) Len() int           { return len(h) }
func (h scoredIDHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h scoredIDHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredIDHeap) Push(x any)        { *h = append(*h, x.(scoredID)) }
func (h *scoredIDHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}
