package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/storage"
)

// CategoryQuickSelector toggles categories on a single file.
type CategoryQuickSelector struct {
	src      Source
	file     storage.FileRecord
	cats     []storage.Category
	cursor   int
	active   bool
	assigned map[string]bool
}

func NewCategoryQuickSelector(src Source) *CategoryQuickSelector {
	return &CategoryQuickSelector{src: src}
}

func (s *CategoryQuickSelector) Active() bool { return s.active }

// Open shows the selector for f.
func (s *CategoryQuickSelector) Open(f storage.FileRecord, cats []storage.Category) {
	s.file = f
	s.cats = cats
	s.cursor = 0
	s.active = true
	s.setAssigned(f.Categories)
}

func (s *CategoryQuickSelector) setAssigned(names []string) {
	s.assigned = make(map[string]bool, len(names))
	for _, n := range names {
		s.assigned[categories.Normalize(n)] = true
	}
}

func (s *CategoryQuickSelector) has(c storage.Category) bool {
	return s.assigned[categories.Normalize(c.Name)]
}

func (s *CategoryQuickSelector) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "c", "q":
			s.active = false
		case "j", "down":
			if s.cursor < len(s.cats)-1 {
				s.cursor++
			}
		case "k", "up":
			if s.cursor > 0 {
				s.cursor--
			}
		case " ", "enter", "x":
			if s.cursor < len(s.cats) {
				return s.toggle(s.cats[s.cursor])
			}
		}
	case fileCategoriesMsg:
		if msg.fileID == s.file.ID {
			s.file.Categories = msg.categories
			s.setAssigned(msg.categories)
		}
	}
	return nil
}

func (s *CategoryQuickSelector) toggle(c storage.Category) tea.Cmd {
	fileID, remove := s.file.ID, s.has(c)
	return func() tea.Msg {
		var names []string
		var err error
		if remove {
			names, err = s.src.Unassign(context.Background(), fileID, c.ID)
		} else {
			names, err = s.src.Assign(context.Background(), fileID, c.ID)
		}
		if err != nil {
			return errMsg{err}
		}
		return fileCategoriesMsg{fileID: fileID, categories: names}
	}
}

func (s *CategoryQuickSelector) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Categories for " + s.file.Name))
	b.WriteString("\n\n")
	if len(s.cats) == 0 {
		b.WriteString(dimStyle.Render("No categories. Create one with `kc categories create <name>`."))
		return b.String()
	}
	for i, c := range s.cats {
		mark := "[ ]"
		if s.has(c) {
			mark = "[x]"
		}
		swatch := "■"
		if c.Color != "" {
			swatch = lipgloss.NewStyle().Foreground(lipgloss.Color(c.Color)).Render("■")
		}
		line := fmt.Sprintf("%s %s %s %s", mark, swatch, c.Icon, c.Name)
		if i == s.cursor {
			b.WriteString(selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		if i < len(s.cats)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
