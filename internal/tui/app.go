// Package tui is the terminal browser behind `kc browse`.
package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/stats"
	"github.com/kcons/kc/internal/storage"
)

// Source is where the panels read and write data. The CLI implements it
// on top of the daemon's HTTP API.
type Source interface {
	Files(ctx context.Context, c filter.Criteria) (filter.Result, error)
	Categories(ctx context.Context) ([]storage.Category, error)
	Assign(ctx context.Context, fileID, category string) ([]string, error)
	Unassign(ctx context.Context, fileID, category string) ([]string, error)
	Stats(ctx context.Context) (stats.Stats, error)
	Convergence(ctx context.Context) (relevance.Report, error)
}

type tab int

const (
	tabWorkflow tab = iota
	tabStats
	tabConvergence
)

var tabNames = []string{"Files", "Stats", "Convergence"}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	activeTabStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("205")).Padding(0, 1)
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	selectedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

type filesLoadedMsg struct{ result filter.Result }

type categoriesLoadedMsg struct{ categories []storage.Category }

type statsLoadedMsg struct{ stats stats.Stats }

type convergenceLoadedMsg struct{ report relevance.Report }

// fileCategoriesMsg carries a file's categories after an assignment change.
type fileCategoriesMsg struct {
	fileID     string
	categories []string
}

type errMsg struct{ err error }

// Model is the root bubbletea model.
type Model struct {
	src         Source
	tab         tab
	workflow    *WorkflowPanel
	selector    *CategoryQuickSelector
	stats       *StatsPanel
	convergence *ConvergenceDashboard
	categories  []storage.Category
	width       int
	height      int
	err         string
}

// New creates the root model.
func New(src Source) *Model {
	return &Model{
		src:         src,
		workflow:    NewWorkflowPanel(src),
		selector:    NewCategoryQuickSelector(src),
		stats:       NewStatsPanel(src),
		convergence: NewConvergenceDashboard(src),
		width:       100,
		height:      30,
	}
}

// Run starts the program on the alternate screen and blocks until it exits.
func Run(src Source) error {
	_, err := tea.NewProgram(New(src), tea.WithAltScreen()).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.workflow.Load(), m.loadCategories)
}

func (m *Model) loadCategories() tea.Msg {
	cats, err := m.src.Categories(context.Background())
	if err != nil {
		return errMsg{err}
	}
	return categoriesLoadedMsg{cats}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.workflow.SetHeight(msg.Height - 8)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.err = ""
		if m.selector.Active() {
			return m, m.selector.Update(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "tab":
			return m, m.switchTab((m.tab + 1) % tab(len(tabNames)))
		case "shift+tab":
			return m, m.switchTab((m.tab + tab(len(tabNames)) - 1) % tab(len(tabNames)))
		case "1", "2", "3":
			return m, m.switchTab(tab(msg.String()[0] - '1'))
		case "c":
			if m.tab == tabWorkflow {
				if f, ok := m.workflow.Selected(); ok {
					m.selector.Open(f, m.categories)
				}
				return m, nil
			}
		}
		switch m.tab {
		case tabWorkflow:
			return m, m.workflow.Update(msg)
		case tabStats:
			return m, m.stats.Update(msg)
		case tabConvergence:
			return m, m.convergence.Update(msg)
		}

	case filesLoadedMsg:
		m.workflow.Update(msg)
		m.convergence.SetNames(m.workflow.Names())
	case categoriesLoadedMsg:
		m.categories = msg.categories
	case fileCategoriesMsg:
		m.workflow.Update(msg)
		m.selector.Update(msg)
	case statsLoadedMsg:
		m.stats.Update(msg)
	case convergenceLoadedMsg:
		m.convergence.Update(msg)
	case errMsg:
		m.err = msg.err.Error()
		m.workflow.loading = false
		m.stats.loading = false
		m.convergence.loading = false
	}
	return m, nil
}

// switchTab changes the visible panel, loading it the first time it is shown.
func (m *Model) switchTab(t tab) tea.Cmd {
	m.tab = t
	switch t {
	case tabStats:
		if !m.stats.loaded {
			return m.stats.Load()
		}
	case tabConvergence:
		if !m.convergence.loaded {
			return m.convergence.Load()
		}
	}
	return nil
}

func (m *Model) View() string {
	var tabs []string
	for i, name := range tabNames {
		label := string(rune('1'+i)) + " " + name
		if tab(i) == m.tab {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("kc "), strings.Join(tabs, " "))

	var body, help string
	switch {
	case m.selector.Active():
		body = m.selector.View()
		help = "j/k: move | space: toggle | esc: close"
	case m.tab == tabWorkflow:
		body = m.workflow.View()
		help = "j/k: move | r: relevance band | s: status | c: categories | R: reload | tab: panels | q: quit"
	case m.tab == tabStats:
		body = m.stats.View()
		help = "r: reload | tab: panels | q: quit"
	case m.tab == tabConvergence:
		body = m.convergence.View()
		help = "j/k: move | r: recompute | tab: panels | q: quit"
	}

	lines := []string{header, panelStyle.Width(max(m.width-4, 40)).Render(body)}
	if m.err != "" {
		lines = append(lines, errorStyle.Render("Error: "+m.err))
	}
	lines = append(lines, dimStyle.Render(help))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
