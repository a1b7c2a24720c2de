// Package filter narrows the file corpus by relevance, status, time, size,
// type, category and text.
package filter

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/discovery"
	"github.com/kcons/kc/internal/storage"
)

// Bucket values for each criterion.
var (
	RelevanceBuckets = []string{"all", ">=30", ">=50", ">=70", ">=90"}
	StatusBuckets    = []string{"all", "pending", "analyzed"}
	TimeBuckets      = []string{"all", "1m", "3m", "6m", "1y", "2y"}
)

// Criteria selects files. The zero value matches everything.
type Criteria struct {
	Relevance      string   `json:"relevance,omitempty"`
	Status         string   `json:"status,omitempty"`
	TimeRange      string   `json:"timeRange,omitempty"`
	MinSize        int64    `json:"minSize,omitempty"`
	MaxSize        int64    `json:"maxSize,omitempty"`
	Extensions     []string `json:"extensions,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	Search         string   `json:"search,omitempty"`
	HideDuplicates bool     `json:"hideDuplicates,omitempty"`
	// IDs restricts the result to explicit file ids when non-empty.
	IDs []string `json:"ids,omitempty"`
}

// Validate reports unknown bucket values.
func (c Criteria) Validate() error {
	if c.Relevance != "" && !slices.Contains(RelevanceBuckets, c.Relevance) {
		return fmt.Errorf("invalid relevance %q (want one of %s)", c.Relevance, strings.Join(RelevanceBuckets, ", "))
	}
	if c.Status != "" && !slices.Contains(StatusBuckets, c.Status) {
		return fmt.Errorf("invalid status %q (want one of %s)", c.Status, strings.Join(StatusBuckets, ", "))
	}
	if _, err := discovery.ParseTimeWindow(c.TimeRange); err != nil {
		return err
	}
	if c.MaxSize > 0 && c.MinSize > c.MaxSize {
		return fmt.Errorf("minSize %d is larger than maxSize %d", c.MinSize, c.MaxSize)
	}
	return nil
}

// Counts holds how many input files fall in each bucket of each criterion,
// ignoring the criterion itself but honouring the others.
type Counts struct {
	Relevance  map[string]int `json:"relevance"`
	Status     map[string]int `json:"status"`
	TimeRange  map[string]int `json:"timeRange"`
	Extensions map[string]int `json:"extensions"`
	Categories map[string]int `json:"categories"`
	Duplicates int            `json:"duplicates"`
}

// Result is the outcome of Apply.
type Result struct {
	Files  []storage.FileRecord `json:"files"`
	Total  int                  `json:"total"`
	Counts Counts               `json:"counts"`
}

// Apply returns the files matching c sorted by relevance then modification
// time, both descending, along with per-bucket counts.
func Apply(files []storage.FileRecord, c Criteria, now time.Time) Result {
	m := newMatcher(c, now)

	res := Result{
		Files: []storage.FileRecord{},
		Counts: Counts{
			Relevance:  make(map[string]int),
			Status:     make(map[string]int),
			TimeRange:  make(map[string]int),
			Extensions: make(map[string]int),
			Categories: make(map[string]int),
		},
	}
	for _, f := range files {
		if m.except("relevance", f) {
			for _, b := range RelevanceBuckets {
				if relevanceOK(b, f.RelevanceScore) {
					res.Counts.Relevance[b]++
				}
			}
		}
		if m.except("status", f) {
			for _, b := range StatusBuckets {
				if statusOK(b, f.Analyzed) {
					res.Counts.Status[b]++
				}
			}
		}
		if m.except("time", f) {
			for _, b := range TimeBuckets {
				if timeOK(b, f.ModifiedAt, now) {
					res.Counts.TimeRange[b]++
				}
			}
		}
		if m.except("extensions", f) {
			res.Counts.Extensions[f.Extension]++
		}
		if m.except("categories", f) {
			for _, cat := range f.Categories {
				res.Counts.Categories[cat]++
			}
		}
		if m.except("duplicates", f) && f.DuplicateOf != "" {
			res.Counts.Duplicates++
		}
		if m.except("", f) {
			res.Files = append(res.Files, f)
		}
	}

	slices.SortStableFunc(res.Files, func(a, b storage.FileRecord) int {
		if c := cmp.Compare(b.RelevanceScore, a.RelevanceScore); c != 0 {
			return c
		}
		return b.ModifiedAt.Compare(a.ModifiedAt)
	})
	res.Total = len(res.Files)
	return res
}

type matcher struct {
	c      Criteria
	now    time.Time
	exts   []string
	cats   map[string]bool
	ids    map[string]bool
	search string
}

func newMatcher(c Criteria, now time.Time) *matcher {
	m := &matcher{c: c, now: now, search: categories.Normalize(c.Search)}
	for _, e := range c.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m.exts = append(m.exts, e)
	}
	if len(c.Categories) > 0 {
		m.cats = make(map[string]bool)
		for _, name := range c.Categories {
			m.cats[categories.Normalize(name)] = true
		}
	}
	if len(c.IDs) > 0 {
		m.ids = make(map[string]bool)
		for _, id := range c.IDs {
			m.ids[id] = true
		}
	}
	return m
}

// except reports whether f passes every criterion other than skip.
func (m *matcher) except(skip string, f storage.FileRecord) bool {
	c := m.c
	if m.ids != nil && !m.ids[f.ID] {
		return false
	}
	if skip != "relevance" && !relevanceOK(c.Relevance, f.RelevanceScore) {
		return false
	}
	if skip != "status" && !statusOK(c.Status, f.Analyzed) {
		return false
	}
	if skip != "time" && !timeOK(c.TimeRange, f.ModifiedAt, m.now) {
		return false
	}
	if f.Size < c.MinSize || (c.MaxSize > 0 && f.Size > c.MaxSize) {
		return false
	}
	if skip != "extensions" && len(m.exts) > 0 && !slices.Contains(m.exts, strings.ToLower(f.Extension)) {
		return false
	}
	if skip != "categories" && m.cats != nil && !slices.ContainsFunc(f.Categories, func(name string) bool {
		return m.cats[categories.Normalize(name)]
	}) {
		return false
	}
	if skip != "duplicates" && c.HideDuplicates && f.DuplicateOf != "" {
		return false
	}
	if m.search != "" && !strings.Contains(categories.Normalize(f.Name), m.search) &&
		!strings.Contains(categories.Normalize(f.Preview), m.search) {
		return false
	}
	return true
}

func relevanceOK(bucket string, score float64) bool {
	if bucket == "" || bucket == "all" {
		return true
	}
	threshold, err := strconv.ParseFloat(strings.TrimPrefix(bucket, ">="), 64)
	if err != nil {
		return true
	}
	return score >= threshold
}

func statusOK(bucket string, analyzed bool) bool {
	switch bucket {
	case "pending":
		return !analyzed
	case "analyzed":
		return analyzed
	}
	return true
}

func timeOK(bucket string, modified, now time.Time) bool {
	window, err := discovery.ParseTimeWindow(bucket)
	if err != nil || window == 0 {
		return true
	}
	return now.Sub(modified) <= window
}
