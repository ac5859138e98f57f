package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/stream"
)

// PackCommand returns the pack command, which converts JSONL messages into
// a frame file that ingest replays like a captured batch.
func PackCommand() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "Pack JSONL item messages into a frame file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "JSONL input (- for stdin)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Frame file to write (- for stdout)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "partition-key",
				Usage: "Partition key stamped on every record",
				Value: "pack",
			},
		},
		Action: packAction,
	}
}

func packAction(c *cli.Context) error {
	var in io.Reader = os.Stdin
	if path := c.String("input"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open input: %v", err), 1)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	records, err := readJSONL(bufio.NewReader(in), c.String("partition-key"), time.Now().UTC())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var out io.Writer = os.Stdout
	if path := c.String("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot create output: %v", err), 1)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	enc := stream.NewFrameEncoder(out)
	for i := range records {
		if err := enc.WriteRecord(&records[i]); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}
	if err := enc.Flush(); err != nil {
		return cli.Exit(fmt.Sprintf("cannot write output: %v", err), 1)
	}
	if isStderrTTY() {
		fmt.Fprintf(os.Stderr, "packed %d records\n", len(records))
	}
	return nil
}
