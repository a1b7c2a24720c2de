package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FileRecord is a discovered file and everything known about it.
type FileRecord struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	RelPath        string    `json:"relPath"`
	Extension      string    `json:"extension"`
	Size           int64     `json:"size"`
	ModifiedAt     time.Time `json:"modifiedAt"`
	DiscoveredAt   time.Time `json:"discoveredAt"`
	ContentHash    string    `json:"contentHash"`
	DuplicateOf    string    `json:"duplicateOf,omitempty"`
	Content        string    `json:"content,omitempty"`
	Preview        string    `json:"preview"`
	ExtractError   string    `json:"extractError,omitempty"`
	RelevanceScore float64   `json:"relevanceScore"`
	Categories     []string  `json:"categories"`
	Analyzed       bool      `json:"analyzed"`
	AnalysisType   string    `json:"analysisType,omitempty"`
	Analysis       *Analysis `json:"analysis,omitempty"`
	AnalyzedAt     time.Time `json:"analyzedAt,omitzero"`
}

// Analysis is the normalized result of running a file through an analysis template.
type Analysis struct {
	AnalysisType   string    `json:"analysisType"`
	Summary        string    `json:"summary"`
	Moments        []string  `json:"moments"`
	Insights       []string  `json:"insights,omitempty"`
	Categories     []string  `json:"categories"`
	RelevanceScore float64   `json:"relevanceScore"`
	Provider       string    `json:"provider,omitempty"`
	Template       string    `json:"template,omitempty"`
	Structured     bool      `json:"structured"`
	AnalyzedAt     time.Time `json:"analyzedAt"`
}

// Category groups files under a user-visible label.
type Category struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	Icon       string    `json:"icon"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Job struct {
	ID   string
	Type string
	// FileID ties the job to a file so duplicates collapse and deleting
	// the file drops its queued work. Empty for corpus-wide jobs.
	FileID      string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// FilterPreset is a named, saved set of filter criteria.
type FilterPreset struct {
	Name         string    `json:"name"`
	CriteriaJSON string    `json:"criteria"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ExportEntry records one completed export.
type ExportEntry struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	Target    string    `json:"target"`
	FileCount int       `json:"fileCount"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
