package tui

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kcons/kc/internal/stats"
)

const barWidth = 30

// StatsPanel shows corpus totals, relevance bands and category usage.
type StatsPanel struct {
	src     Source
	stats   stats.Stats
	loading bool
	loaded  bool
}

func NewStatsPanel(src Source) *StatsPanel {
	return &StatsPanel{src: src}
}

func (p *StatsPanel) Load() tea.Cmd {
	p.loading = true
	return func() tea.Msg {
		s, err := p.src.Stats(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return statsLoadedMsg{s}
	}
}

func (p *StatsPanel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "r" {
			return p.Load()
		}
	case statsLoadedMsg:
		p.stats = msg.stats
		p.loading = false
		p.loaded = true
	}
	return nil
}

func (p *StatsPanel) View() string {
	if !p.loaded {
		return "Loading statistics..."
	}
	s := p.stats
	var b strings.Builder
	fmt.Fprintf(&b, "Files: %d   Analyzed: %d   Pending: %d   Duplicates: %d   Extract errors: %d\n",
		s.Files, s.Analyzed, s.Pending, s.Duplicates, s.ExtractErrors)
	fmt.Fprintf(&b, "Total size: %s   Average relevance: %.1f%%\n\n", humanSize(s.TotalSize), s.AverageRelevance)

	b.WriteString(titleStyle.Render("Relevance"))
	b.WriteByte('\n')
	for _, band := range stats.Bands {
		fmt.Fprintf(&b, "%-7s %s %d\n", band, bar(s.RelevanceBands[band], s.Files), s.RelevanceBands[band])
	}

	b.WriteByte('\n')
	b.WriteString(titleStyle.Render("Categories"))
	b.WriteByte('\n')
	for _, name := range byCount(s.Categories) {
		fmt.Fprintf(&b, "%-20s %s %d\n", truncate(name, 20), bar(s.Categories[name], s.Files), s.Categories[name])
	}
	fmt.Fprintf(&b, "%-20s %s %d", "(uncategorized)", bar(s.Uncategorized, s.Files), s.Uncategorized)
	return b.String()
}

// byCount returns the keys of m, largest count first.
func byCount(m map[string]int) []string {
	keys := slices.Sorted(maps.Keys(m))
	slices.SortStableFunc(keys, func(a, b string) int { return m[b] - m[a] })
	return keys
}

func bar(n, total int) string {
	if total <= 0 {
		return strings.Repeat("░", barWidth)
	}
	filled := n * barWidth / total
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
