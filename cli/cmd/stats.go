package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/render"
	"github.com/justapithecus/sitemapper/cli/tui"
	"github.com/justapithecus/sitemapper/runtime"
)

// StatsCommand returns the stats command.
// Stats renders a saved invocation report; it reads no store.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show statistics from saved reports",
		Subcommands: []*cli.Command{
			{
				Name:      "report",
				Usage:     "Show an invocation report written by ingest --report",
				ArgsUsage: "<report.json>",
				Flags:     TUIReadOnlyFlags(),
				Action:    statsReportAction,
			},
		},
	}
}

func statsReportAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("report path required", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	report, err := readReport(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsReport, report)
	}
	return r.Render(report)
}

func readReport(path string) (*runtime.InvocationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read report: %w", err)
	}
	var report runtime.InvocationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("invalid report %s: %w", path, err)
	}
	return &report, nil
}
