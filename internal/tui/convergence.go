package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kcons/kc/internal/relevance"
)

// ConvergenceDashboard lists convergence chains and the members of the
// selected one.
type ConvergenceDashboard struct {
	src     Source
	report  relevance.Report
	names   map[string]string
	cursor  int
	loading bool
	loaded  bool
}

func NewConvergenceDashboard(src Source) *ConvergenceDashboard {
	return &ConvergenceDashboard{src: src}
}

// SetNames supplies file names for rendering chain participants.
func (d *ConvergenceDashboard) SetNames(names map[string]string) { d.names = names }

func (d *ConvergenceDashboard) Load() tea.Cmd {
	d.loading = true
	return func() tea.Msg {
		rep, err := d.src.Convergence(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return convergenceLoadedMsg{rep}
	}
}

func (d *ConvergenceDashboard) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if d.cursor < len(d.report.Chains)-1 {
				d.cursor++
			}
		case "k", "up":
			if d.cursor > 0 {
				d.cursor--
			}
		case "r":
			return d.Load()
		}
	case convergenceLoadedMsg:
		d.report = msg.report
		d.loading = false
		d.loaded = true
		if d.cursor >= len(d.report.Chains) {
			d.cursor = 0
		}
	}
	return nil
}

func (d *ConvergenceDashboard) View() string {
	if d.loading && !d.loaded {
		return "Computing convergence chains..."
	}
	rep := d.report
	var b strings.Builder
	fmt.Fprintf(&b, "Chains: %d   Documents: %d   Participants: %d   Threshold: %.2f   Average score: %.1f\n\n",
		len(rep.Chains), rep.Documents, rep.Participants, rep.Threshold, rep.AverageScore)
	if len(rep.Chains) == 0 {
		b.WriteString(dimStyle.Render("No chains. Embeddings are built as files are discovered; try a lower threshold."))
		return b.String()
	}

	for i, c := range rep.Chains {
		line := fmt.Sprintf("%-24s %5.1f  %d files  %s",
			truncate(c.DominantTheme, 24), c.ConvergenceScore, len(c.Participants), truncate(strings.Join(c.SharedCategories, ", "), 30))
		if i == d.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteByte('\n')
	}

	sel := rep.Chains[d.cursor]
	b.WriteByte('\n')
	b.WriteString(titleStyle.Render("Participants"))
	for _, id := range sel.Participants {
		name := d.names[id]
		if name == "" {
			name = id
		}
		b.WriteString("\n  " + name)
	}
	return b.String()
}
