package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/sitemapper/cli/reader"
)

var written = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"invalid csv", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat_InvalidErrorMessage(t *testing.T) {
	_, err := ParseFormat("xml")
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

func TestRenderer_JSON_ShardView(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	view := &reader.ShardView{Type: "widgets", ShardID: "shard-0001", CurrentFile: "widgets-00002.xml", FileCount: 2}
	if err := r.Render(view); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["current_file"] != "widgets-00002.xml" || got["shard_id"] != "shard-0001" {
		t.Errorf("unexpected JSON payload: %v", got)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(reader.FileListEntry{FileName: "widgets-00001.xml", Status: "written", CountWritten: 3}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "file_name: widgets-00001.xml") || !strings.Contains(got, "count_written: 3") {
		t.Errorf("YAML output missing expected content: %s", got)
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	view := &reader.FileView{
		Type:            "widgets",
		FileName:        "widgets-00001.xml",
		Status:          "dirty",
		CountWritten:    4,
		TimeLastWritten: written,
		PageRecords:     map[string]int{"written": 3, "toremove": 1},
	}
	if err := r.Render(view); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{
		"file_name:",
		"widgets-00001.xml",
		"2026-03-01T12:00:00Z",
		"toremove=1 written=3",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q:\n%s", want, got)
		}
	}
	// Zero omitempty fields are left out.
	if strings.Contains(got, "time_dirtied") || strings.Contains(got, "blob_error") {
		t.Errorf("omitempty fields rendered:\n%s", got)
	}
	// Zero times render as a dash.
	if !strings.Contains(got, "time_first_seen:") || !strings.Contains(got, "-\n") {
		t.Errorf("zero time not rendered as dash:\n%s", got)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	files := []reader.FileListEntry{
		{FileName: "widgets-00001.xml", Status: "written", CountWritten: 10, TimeLastWritten: written},
		{FileName: "widgets-00002.xml", Status: "empty"},
	}
	if err := r.Render(files); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "file_name") || !strings.Contains(lines[0], "status") {
		t.Errorf("unexpected header row: %q", lines[0])
	}
	if !strings.Contains(lines[1], "widgets-00001.xml") || !strings.Contains(lines[2], "empty") {
		t.Errorf("unexpected rows:\n%s", buf.String())
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render([]reader.FileListEntry{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestRenderer_Table_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render(map[string]int{"removed": 2, "dirty": 1, "written": 5}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	d, rm, w := strings.Index(got, "dirty"), strings.Index(got, "removed"), strings.Index(got, "written")
	if d < 0 || rm < d || w < rm {
		t.Errorf("map keys not sorted:\n%s", got)
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var bufColor, bufNoColor bytes.Buffer
	data := map[string]string{"status": "written"}

	if err := NewRendererWithWriter(FormatJSON, false, &bufColor).Render(data); err != nil {
		t.Fatalf("Render with color failed: %v", err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &bufNoColor).Render(data); err != nil {
		t.Fatalf("Render without color failed: %v", err)
	}
	if bufColor.String() != bufNoColor.String() {
		t.Errorf("--no-color should not affect JSON output")
	}
}

func TestRenderer_RenderTUI_Unsupported(t *testing.T) {
	r := NewRendererWithWriter(FormatTable, false, &bytes.Buffer{})
	if err := r.RenderTUI("repair", nil); err == nil {
		t.Error("expected error for unsupported TUI view")
	}
}
