package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/sitemapper/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	files    table.Model
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	m := InspectModel{
		viewType: viewType,
		data:     data,
	}
	if entries, ok := data.([]reader.FileListEntry); ok {
		m.files = newFileTable(entries)
	}
	return m
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.viewType == ViewInspectFiles && msg.Height > 8 {
			m.files.SetHeight(msg.Height - 8)
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.viewType == ViewInspectFiles {
		var cmd tea.Cmd
		m.files, cmd = m.files.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectShard:
		content = m.renderInspectShard()
	case ViewInspectFile:
		content = m.renderInspectFile()
	case ViewInspectFiles:
		content = m.renderInspectFiles()
	case ViewInspectItem:
		content = m.renderInspectItem()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := "Press q or Ctrl+C to quit"
	if m.viewType == ViewInspectFiles {
		help = "↑/↓ to scroll, q or Ctrl+C to quit"
	}
	return content + "\n" + HelpStyle.Render(help)
}

func (m InspectModel) renderInspectShard() string {
	data, ok := m.data.(*reader.ShardView)
	if !ok {
		return "Invalid data type for inspect_shard"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Shard " + data.ShardID))
	b.WriteString("\n\n")
	writeRows(&b, [][2]string{
		{"Type", data.Type},
		{"Current File", data.CurrentFile},
		{"Current Items", strconv.Itoa(data.CurrentFileItemCount)},
		{"Files", strconv.Itoa(data.FileCount)},
		{"Total Items", strconv.FormatInt(data.TotalItemCount, 10)},
		{"First Seen", formatTime(data.TimeFirstSeen)},
		{"Last Written", formatTime(data.TimeLastWritten)},
	})
	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderInspectFile() string {
	data, ok := m.data.(*reader.FileView)
	if !ok {
		return "Invalid data type for inspect_file"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("File " + data.FileName))
	b.WriteString("\n\n")
	writeStatusRow(&b, "Status", data.Status)
	rows := [][2]string{
		{"Type", data.Type},
		{"Key", data.Key},
		{"Items Written", strconv.Itoa(data.CountWritten)},
		{"First Seen", formatTime(data.TimeFirstSeen)},
		{"Last Written", formatTime(data.TimeLastWritten)},
	}
	if data.TimeDirtied != nil {
		rows = append(rows, [2]string{"Dirtied", formatTime(*data.TimeDirtied)})
	}
	writeRows(&b, rows)

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("Blob"))
	b.WriteString("\n")
	switch {
	case !data.BlobPresent:
		b.WriteString(ErrorStyle.Render("  missing") + "\n")
	case data.BlobError != "":
		b.WriteString(ErrorStyle.Render("  "+data.BlobError) + "\n")
	default:
		writeRows(&b, [][2]string{
			{"  Bytes", strconv.Itoa(data.BlobBytes)},
			{"  Items", strconv.Itoa(data.BlobItems)},
		})
	}

	if len(data.PageRecords) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Page Records"))
		b.WriteString("\n")
		for _, status := range []string{"written", "towrite", "toremove", "removed"} {
			if n, ok := data.PageRecords[status]; ok {
				fmt.Fprintf(&b, "%s %s\n",
					LabelStyle.Render("  "+status+":"),
					StatusStyle(status).Render(strconv.Itoa(n)))
			}
		}
	}
	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderInspectFiles() string {
	data, ok := m.data.([]reader.FileListEntry)
	if !ok {
		return "Invalid data type for inspect_files"
	}
	title := TitleStyle.Render(fmt.Sprintf("Files (%d)", len(data)))
	if len(data) == 0 {
		return title + "\n" + MutedStyle.Render("(no files)")
	}
	return title + "\n" + m.files.View()
}

func (m InspectModel) renderInspectItem() string {
	data, ok := m.data.(*reader.ItemView)
	if !ok {
		return "Invalid data type for inspect_item"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Item " + data.ItemID))
	b.WriteString("\n\n")
	writeStatusRow(&b, "Status", data.Status)
	pageStatus := data.PageStatus
	if pageStatus == "" {
		pageStatus = "missing"
	}
	writeStatusRow(&b, "Page Copy", pageStatus)
	rows := [][2]string{
		{"Type", data.Type},
		{"File", data.FileName},
		{"Loc", data.Loc},
	}
	if data.LastMod != "" {
		rows = append(rows, [2]string{"Last Modified", data.LastMod})
	}
	rows = append(rows,
		[2]string{"First Seen", formatTime(data.TimeFirstSeen)},
		[2]string{"Last Written", formatTime(data.TimeLastWritten)},
	)
	writeRows(&b, rows)
	return BoxStyle.Render(b.String())
}

func newFileTable(entries []reader.FileListEntry) table.Model {
	rows := make([]table.Row, len(entries))
	for i, e := range entries {
		rows[i] = table.Row{e.FileName, e.Status, strconv.Itoa(e.CountWritten), formatTime(e.TimeLastWritten)}
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "File", Width: 28},
			{Title: "Status", Width: 10},
			{Title: "Items", Width: 8},
			{Title: "Last Written", Width: 22},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+3, 20)),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(primaryColor)
	t.SetStyles(s)
	return t
}

func writeRows(b *strings.Builder, rows [][2]string) {
	for _, row := range rows {
		fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
}

func writeStatusRow(b *strings.Builder, label, status string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label+":"), StatusStyle(status).Render(status))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	p := tea.NewProgram(NewInspectModel(viewType, data), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
