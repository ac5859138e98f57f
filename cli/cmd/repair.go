package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/render"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/repair"
	"github.com/justapithecus/sitemapper/runtime"
)

// RepairCommand returns the repair command.
func RepairCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "type",
			Aliases:  []string{"t"},
			Usage:    "Logical type to repair (repeat with --all)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "Page file name to repair",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Repair every page of each type",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Report decisions without writing",
		},
		&cli.BoolFlag{
			Name:  "cross-check",
			Usage: "Also recover page records missing from the stored page",
		},
		&cli.StringFlag{
			Name:  "id-pattern",
			Usage: "Regular expression whose first group extracts the item id from loc",
		},
		&cli.BoolFlag{
			Name:  "silent",
			Usage: "Suppress structured logs",
		},
	}
	flags = append(flags, BackendFlags()...)
	flags = append(flags, ReadOnlyFlags()...)

	return &cli.Command{
		Name:   "repair",
		Usage:  "Reconcile stored pages with the metadata store",
		Flags:  flags,
		Action: repairAction,
	}
}

func repairAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for repair command", runtime.ExitCodeFailed)
	}

	typs := c.StringSlice("type")
	fileName := c.String("file")
	switch {
	case c.Bool("all") && fileName != "":
		return cli.Exit("--file and --all are mutually exclusive", runtime.ExitCodePrecondition)
	case !c.Bool("all") && fileName == "":
		return cli.Exit("one of --file or --all is required", runtime.ExitCodePrecondition)
	case fileName != "" && len(typs) != 1:
		return cli.Exit("--file takes exactly one --type", runtime.ExitCodePrecondition)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodePrecondition)
	}
	if c.IsSet("id-pattern") {
		cfg.Repair.IDPattern = c.String("id-pattern")
	}
	if c.IsSet("cross-check") {
		cfg.Repair.CrossCheckByPage = c.Bool("cross-check")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, b, err := newOrchestrator(ctx, c, cfg, metrics.NewCollector(), c.Bool("dry-run"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodePrecondition)
	}
	defer func() { _ = b.Close() }()

	var results []*repair.Result
	if fileName != "" {
		var res *repair.Result
		res, err = orch.Repair(ctx, typs[0], fileName)
		if res != nil {
			results = append(results, res)
		}
	} else {
		results, err = orch.RepairAll(ctx, typs)
	}

	if results == nil {
		results = []*repair.Result{}
	}
	if renderErr := r.Render(results); renderErr != nil {
		return renderErr
	}
	if err != nil {
		_, code := runtime.DetermineOutcome(err)
		return cli.Exit(err.Error(), code)
	}
	return nil
}
