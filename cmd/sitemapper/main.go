// Package main provides the sitemapper CLI entrypoint.
//
// Usage:
//
//	sitemapper <command> [subcommand] [options]
//
// Exit codes of ingest and repair:
//   - 0: every type processed
//   - 1: a type failed or the invocation was canceled; retry the batch
//   - 2: precondition failed; the batch was rejected before any write
//   - 3: an item carried the fatal compact version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/cmd"
	"github.com/justapithecus/sitemapper/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "sitemapper",
		Usage:          "Stream-fed sitemap page writer",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.IngestCommand(),
			cmd.RepairCommand(),
			cmd.InspectCommand(),
			cmd.StatsCommand(),
			cmd.PackCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for every error it saw.
		os.Exit(1)
	}
}

// exitErrHandler prints the error and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code of err and the message to print.
// cli.Exit codes pass through, wrapped or not; any other error exits 1.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is empty or "exit status N".
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
