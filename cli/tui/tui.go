package tui

import (
	"fmt"
	"slices"
	"strings"
)

// View types with TUI support.
const (
	ViewInspectShard = "inspect_shard"
	ViewInspectFile  = "inspect_file"
	ViewInspectFiles = "inspect_files"
	ViewInspectItem  = "inspect_item"
	ViewStatsReport  = "stats_report"
)

var supportedViews = []string{
	ViewInspectShard,
	ViewInspectFile,
	ViewInspectFiles,
	ViewInspectItem,
	ViewStatsReport,
}

// Run starts the TUI of the view type.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	if strings.HasPrefix(viewType, "stats_") {
		return RunStatsTUI(viewType, data)
	}
	return RunInspectTUI(viewType, data)
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(supportedViews, viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return slices.Clone(supportedViews)
}
