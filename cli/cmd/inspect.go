package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/reader"
	"github.com/justapithecus/sitemapper/cli/render"
	"github.com/justapithecus/sitemapper/cli/tui"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect is read-only: it never marks, repairs or uploads anything.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect stored state (shard, file, files, item)",
		Subcommands: []*cli.Command{
			inspectShardCommand(),
			inspectFileCommand(),
			inspectFilesCommand(),
			inspectItemCommand(),
		},
	}
}

func inspectFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "type",
			Aliases:  []string{"t"},
			Usage:    "Logical type",
			Required: true,
		},
	}
	flags = append(flags, extra...)
	flags = append(flags, BackendFlags()...)
	return append(flags, TUIReadOnlyFlags()...)
}

func inspectShardCommand() *cli.Command {
	return &cli.Command{
		Name:  "shard",
		Usage: "Inspect the shard state of a type",
		Flags: inspectFlags(&cli.StringFlag{
			Name:     "shard",
			Usage:    "Shard ID",
			Required: true,
		}),
		Action: inspectAction(tui.ViewInspectShard, func(ctx context.Context, rd reader.Reader, c *cli.Context) (any, error) {
			return rd.InspectShard(ctx, c.String("type"), c.String("shard"))
		}),
	}
}

func inspectFileCommand() *cli.Command {
	return &cli.Command{
		Name:      "file",
		Usage:     "Inspect one page file",
		ArgsUsage: "<file-name>",
		Flags:     inspectFlags(),
		Action: inspectAction(tui.ViewInspectFile, func(ctx context.Context, rd reader.Reader, c *cli.Context) (any, error) {
			if c.NArg() < 1 {
				return nil, errUsage("file-name required")
			}
			return rd.InspectFile(ctx, c.String("type"), c.Args().First())
		}),
	}
}

func inspectFilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "List the page files of a type",
		Flags: inspectFlags(),
		Action: inspectAction(tui.ViewInspectFiles, func(ctx context.Context, rd reader.Reader, c *cli.Context) (any, error) {
			return rd.ListFiles(ctx, c.String("type"))
		}),
	}
}

func inspectItemCommand() *cli.Command {
	return &cli.Command{
		Name:      "item",
		Usage:     "Inspect one item by id",
		ArgsUsage: "<item-id>",
		Flags:     inspectFlags(),
		Action: inspectAction(tui.ViewInspectItem, func(ctx context.Context, rd reader.Reader, c *cli.Context) (any, error) {
			if c.NArg() < 1 {
				return nil, errUsage("item-id required")
			}
			return rd.InspectItem(ctx, c.String("type"), c.Args().First())
		}),
	}
}

type errUsage string

func (e errUsage) Error() string { return string(e) }

type inspectFunc func(ctx context.Context, rd reader.Reader, c *cli.Context) (any, error)

// newReader is replaced in tests.
var newReader = func(ctx context.Context, c *cli.Context) (reader.Reader, func() error, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	b, err := openReadBackends(ctx, cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return reader.NewStoreReader(b.store, b.blobs, cfg.KeyPrefix), b.Close, nil
}

func inspectAction(viewType string, fetch inspectFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		rd, closeFn, err := newReader(c.Context, c)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		defer func() { _ = closeFn() }()

		data, err := fetch(c.Context, rd, c)
		if err != nil {
			var usage errUsage
			if errors.As(err, &usage) {
				return cli.Exit(usage.Error(), 1)
			}
			if errors.Is(err, reader.ErrNotFound) {
				return cli.Exit(err.Error(), 1)
			}
			return fmt.Errorf("inspect failed: %w", err)
		}

		if c.Bool("tui") {
			return r.RenderTUI(viewType, data)
		}
		return r.Render(data)
	}
}
