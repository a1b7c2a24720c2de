package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/storage"
)

// WorkflowPanel lists files with their relevance, status and categories.
// The relevance band and status filters cycle through the filter buckets.
type WorkflowPanel struct {
	src     Source
	files   []storage.FileRecord
	total   int
	cursor  int
	band    int
	status  int
	height  int
	loading bool
	loaded  bool
}

func NewWorkflowPanel(src Source) *WorkflowPanel {
	return &WorkflowPanel{src: src, height: 20}
}

// SetHeight sets how many file rows fit on screen.
func (p *WorkflowPanel) SetHeight(h int) {
	if h < 3 {
		h = 3
	}
	p.height = h
}

func (p *WorkflowPanel) Criteria() filter.Criteria {
	return filter.Criteria{
		Relevance: filter.RelevanceBuckets[p.band],
		Status:    filter.StatusBuckets[p.status],
	}
}

// Load fetches files for the current criteria.
func (p *WorkflowPanel) Load() tea.Cmd {
	p.loading = true
	c := p.Criteria()
	return func() tea.Msg {
		res, err := p.src.Files(context.Background(), c)
		if err != nil {
			return errMsg{err}
		}
		return filesLoadedMsg{res}
	}
}

// Selected returns the file under the cursor.
func (p *WorkflowPanel) Selected() (storage.FileRecord, bool) {
	if p.cursor < 0 || p.cursor >= len(p.files) {
		return storage.FileRecord{}, false
	}
	return p.files[p.cursor], true
}

// Names maps loaded file ids to names.
func (p *WorkflowPanel) Names() map[string]string {
	names := make(map[string]string, len(p.files))
	for _, f := range p.files {
		names[f.ID] = f.Name
	}
	return names
}

func (p *WorkflowPanel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if p.cursor < len(p.files)-1 {
				p.cursor++
			}
		case "k", "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "g", "home":
			p.cursor = 0
		case "G", "end":
			p.cursor = max(len(p.files)-1, 0)
		case "r":
			p.band = (p.band + 1) % len(filter.RelevanceBuckets)
			return p.Load()
		case "s":
			p.status = (p.status + 1) % len(filter.StatusBuckets)
			return p.Load()
		case "R":
			return p.Load()
		}
	case filesLoadedMsg:
		p.files = msg.result.Files
		p.total = msg.result.Total
		p.loading = false
		p.loaded = true
		if p.cursor >= len(p.files) {
			p.cursor = max(len(p.files)-1, 0)
		}
	case fileCategoriesMsg:
		for i := range p.files {
			if p.files[i].ID == msg.fileID {
				p.files[i].Categories = msg.categories
			}
		}
	}
	return nil
}

func (p *WorkflowPanel) View() string {
	c := p.Criteria()
	var b strings.Builder
	fmt.Fprintf(&b, "Relevance: %-5s  Status: %-8s  %d files\n\n", c.Relevance, c.Status, p.total)

	if p.loading && !p.loaded {
		b.WriteString("Loading files...")
		return b.String()
	}
	if len(p.files) == 0 {
		b.WriteString(dimStyle.Render("No files match. Run `kc discover <dir>` or widen the filters."))
		return b.String()
	}

	start := 0
	if p.cursor >= p.height {
		start = p.cursor - p.height + 1
	}
	end := min(start+p.height, len(p.files))
	for i := start; i < end; i++ {
		f := p.files[i]
		status := "pending "
		if f.Analyzed {
			status = "analyzed"
		}
		line := fmt.Sprintf("%-36s %4.0f%%  %s  %s",
			truncate(f.Name, 36), f.RelevanceScore, status, truncate(strings.Join(f.Categories, ", "), 40))
		if i == p.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
