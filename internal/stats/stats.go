// Package stats aggregates corpus figures for the stats panel.
package stats

import (
	"math"

	"github.com/kcons/kc/internal/storage"
)

// Bands are the relevance ranges reported in Stats.RelevanceBands.
var Bands = []string{"0-29", "30-49", "50-69", "70-89", "90-100"}

// Stats summarises a set of files.
type Stats struct {
	Files            int            `json:"files"`
	Analyzed         int            `json:"analyzed"`
	Pending          int            `json:"pending"`
	Duplicates       int            `json:"duplicates"`
	ExtractErrors    int            `json:"extractErrors"`
	TotalSize        int64          `json:"totalSize"`
	AverageRelevance float64        `json:"averageRelevance"`
	Categories       map[string]int `json:"categories"`
	Uncategorized    int            `json:"uncategorized"`
	RelevanceBands   map[string]int `json:"relevanceBands"`
	AnalysisTypes    map[string]int `json:"analysisTypes"`
	Extensions       map[string]int `json:"extensions"`
}

// Compute aggregates files.
func Compute(files []storage.FileRecord) Stats {
	s := Stats{
		Categories:     make(map[string]int),
		RelevanceBands: make(map[string]int, len(Bands)),
		AnalysisTypes:  make(map[string]int),
		Extensions:     make(map[string]int),
	}
	for _, b := range Bands {
		s.RelevanceBands[b] = 0
	}

	var relevanceSum float64
	for _, f := range files {
		s.Files++
		s.TotalSize += f.Size
		if f.Analyzed {
			s.Analyzed++
		} else {
			s.Pending++
		}
		if f.DuplicateOf != "" {
			s.Duplicates++
		}
		if f.ExtractError != "" {
			s.ExtractErrors++
		}
		if len(f.Categories) == 0 {
			s.Uncategorized++
		}
		for _, c := range f.Categories {
			s.Categories[c]++
		}
		if f.AnalysisType != "" {
			s.AnalysisTypes[f.AnalysisType]++
		}
		ext := f.Extension
		if ext == "" {
			ext = "(none)"
		}
		s.Extensions[ext]++
		s.RelevanceBands[Band(f.RelevanceScore)]++
		relevanceSum += f.RelevanceScore
	}
	if s.Files > 0 {
		s.AverageRelevance = math.Round(relevanceSum/float64(s.Files)*10) / 10
	}
	return s
}

// Band names the relevance range a score falls in.
func Band(score float64) string {
	switch {
	case score >= 90:
		return "90-100"
	case score >= 70:
		return "70-89"
	case score >= 50:
		return "50-69"
	case score >= 30:
		return "30-49"
	}
	return "0-29"
}
