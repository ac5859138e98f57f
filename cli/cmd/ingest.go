package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/config"
	"github.com/justapithecus/sitemapper/cli/render"
	"github.com/justapithecus/sitemapper/log"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/runtime"
)

// IngestCommand returns the ingest command.
// Ingest is the only command, besides repair, that writes state.
func IngestCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "Captured batch: frame file or JSONL (- for stdin)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "input-format",
			Usage: "Input format: frames or jsonl (default: from extension)",
		},
		&cli.StringFlag{
			Name:     "shard",
			Usage:    "Shard ID the batch was read from",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "stream",
			Usage: "Inbound stream name (log context only)",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write the invocation report as JSON to this path (- for stderr)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress result output",
		},
		&cli.BoolFlag{
			Name:  "silent",
			Usage: "Suppress structured logs",
		},
	}
	flags = append(flags, BackendFlags()...)
	flags = append(flags, ReadOnlyFlags()...)

	return &cli.Command{
		Name:   "ingest",
		Usage:  "Apply a batch of stream records to the sitemap pages",
		Flags:  flags,
		Action: ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for ingest command", runtime.ExitCodeFailed)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodePrecondition)
	}
	if c.IsSet("stream") {
		cfg.Stream = c.String("stream")
	}

	shardID := c.String("shard")
	records, err := readRecords(c.String("input"), c.String("input-format"), shardID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read batch: %v", err), runtime.ExitCodePrecondition)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	orch, b, err := newOrchestrator(ctx, c, cfg, collector, false)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodePrecondition)
	}
	defer func() { _ = b.Close() }()

	res, runErr := orch.Process(ctx, shardID, records)
	report := runtime.BuildReport(res, runErr)

	if path := c.String("report"); path != "" {
		if err := runtime.WriteReport(report, path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	if !c.Bool("quiet") {
		if err := r.Render(report); err != nil {
			return err
		}
	}
	if report.ExitCode != runtime.ExitCodeOK {
		return cli.Exit(report.Message, report.ExitCode)
	}
	return nil
}

// newOrchestrator opens the backends and builds an orchestrator over them.
// The caller closes the backends.
func newOrchestrator(ctx context.Context, c *cli.Context, cfg *config.Config, collector *metrics.Collector, dryRun bool) (*runtime.Orchestrator, *backends, error) {
	b, err := openBackends(ctx, cfg, collector)
	if err != nil {
		return nil, nil, err
	}

	deps := runtime.Deps{
		Store:     b.store,
		Blobs:     b.blobs,
		Republish: b.republish,
		Notifier:  b.notifier,
		Collector: collector,
	}
	if c.Bool("silent") {
		deps.Logger = log.NewNop()
	}

	orch, err := runtime.NewOrchestrator(runtime.Config{
		Stream: cfg.Stream,
		Ingest: cfg.IngestEngineConfig(),
		Repair: cfg.ReconcilerConfig(dryRun),
	}, deps)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return orch, b, nil
}
