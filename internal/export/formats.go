package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EncodeJSON renders doc as indented JSON.
func EncodeJSON(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding json export: %w", err)
	}
	return append(data, '\n'), nil
}

type frontmatter struct {
	Title      string         `yaml:"title"`
	Version    string         `yaml:"version"`
	ExportedAt string         `yaml:"exportedAt"`
	Files      int            `yaml:"files"`
	Analyzed   int            `yaml:"analyzed"`
	Average    float64        `yaml:"averageRelevance"`
	Categories map[string]int `yaml:"categories,omitempty"`
}

// EncodeMarkdown renders doc as a Markdown report with YAML frontmatter and
// one section per file.
func EncodeMarkdown(doc Document) ([]byte, error) {
	fm, err := yaml.Marshal(frontmatter{
		Title:      "Knowledge Consolidator export",
		Version:    doc.Version,
		ExportedAt: doc.ExportedAt.Format(time.RFC3339),
		Files:      len(doc.Files),
		Analyzed:   doc.Stats.Analyzed,
		Average:    doc.Stats.AverageRelevance,
		Categories: doc.Stats.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n# Knowledge Consolidator export\n")

	for _, f := range doc.Files {
		fmt.Fprintf(&b, "\n## %s\n\n", f.Name)
		fmt.Fprintf(&b, "- **Path:** `%s`\n", f.Path)
		fmt.Fprintf(&b, "- **Modified:** %s\n", f.Modified.Format("2006-01-02"))
		fmt.Fprintf(&b, "- **Relevance:** %.0f%%\n", f.RelevanceScore)
		if f.AnalysisType != "" {
			fmt.Fprintf(&b, "- **Type:** %s\n", f.AnalysisType)
		}
		if len(f.Categories) > 0 {
			fmt.Fprintf(&b, "- **Categories:** %s\n", strings.Join(f.Categories, ", "))
		}
		if f.Summary != "" {
			fmt.Fprintf(&b, "\n%s\n", f.Summary)
		}
		if len(f.Moments) > 0 {
			b.WriteString("\n### Key moments\n\n")
			for _, m := range f.Moments {
				fmt.Fprintf(&b, "- %s\n", m)
			}
		}
		if f.Preview != "" {
			b.WriteString("\n")
			for _, line := range strings.Split(f.Preview, "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
		}
	}
	return b.Bytes(), nil
}

var csvHeader = []string{"id", "name", "path", "size", "modified", "relevance", "categories", "analysis_type", "summary"}

// EncodeCSV renders one row per file. Categories are joined with ";".
func EncodeCSV(doc Document) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, f := range doc.Files {
		row := []string{
			f.ID,
			f.Name,
			f.Path,
			strconv.FormatInt(f.Size, 10),
			f.Modified.Format(time.RFC3339),
			strconv.FormatFloat(f.RelevanceScore, 'f', 1, 64),
			strings.Join(f.Categories, ";"),
			f.AnalysisType,
			f.Summary,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encoding csv export: %w", err)
	}
	return b.Bytes(), nil
}
