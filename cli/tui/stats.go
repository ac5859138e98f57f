package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/sitemapper/runtime"
)

// StatsModel is a Bubble Tea model for invocation report stats.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsReport:
		content = m.renderStatsReport()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsReport() string {
	data, ok := m.data.(*runtime.InvocationReport)
	if !ok {
		return "Invalid data type for stats_report"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Invocation " + data.InvocationID))
	b.WriteString("\n\n")
	writeStatusRow(&b, "Outcome", string(data.Outcome))
	writeRows(&b, [][2]string{
		{"Shard", data.ShardID},
		{"Exit Code", fmt.Sprintf("%d", data.ExitCode)},
		{"Duration", fmt.Sprintf("%dms", data.DurationMs)},
		{"Message", data.Message},
	})
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Records", int64(data.Records), highlightColor),
		m.renderStatBox("Skipped", int64(data.Skipped), warningColor),
		m.renderStatBox("Types", int64(len(data.Types)), primaryColor),
	))

	if s := data.Metrics; s != nil {
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderStatBox("Appended", s.ItemsAppended, successColor),
			m.renderStatBox("Deleted", s.DeletesApplied, warningColor),
			m.renderStatBox("Uploaded", s.PagesUploaded, highlightColor),
			m.renderStatBox("Malformed", s.PagesMalformed, errorColor),
		))
	}

	if len(data.Types) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Types"))
		b.WriteString("\n")
		for _, t := range data.Types {
			fmt.Fprintf(&b, "%s %s\n",
				LabelStyle.Render(t.Type+":"),
				ValueStyle.Render(fmt.Sprintf("%d received, %d appended, %d deleted, current %s",
					t.Received, t.Appended, t.Deleted, t.CurrentFile)))
		}
	}
	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	p := tea.NewProgram(NewStatsModel(viewType, data), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
