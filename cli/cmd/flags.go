// Package cmd provides CLI commands for the sitemapper binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/sitemapper/cli/config"
)

// Shared flags for read-only output.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for read-only commands (inspect, stats).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ReadOnlyFlags returns the shared output flags.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// BackendFlags returns the config file flag and the backend overrides.
// Flags win over the config file.
func BackendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to sitemapper.yaml",
			EnvVars: []string{"SITEMAPPER_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "Metadata store backend: dynamo, badger or memory",
		},
		&cli.StringFlag{
			Name:  "store-table",
			Usage: "DynamoDB table (dynamo store)",
		},
		&cli.StringFlag{
			Name:  "store-path",
			Usage: "Data directory (badger store)",
		},
		&cli.StringFlag{
			Name:  "blob",
			Usage: "Page store backend: s3, fs or memory",
		},
		&cli.StringFlag{
			Name:  "blob-path",
			Usage: "Page store path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "key-prefix",
			Usage: "Object key prefix of stored pages",
		},
	}
}

// loadConfig reads --config when given, applies flag overrides, fills
// defaults and validates.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		for _, name := range cfg.Unset {
			fmt.Fprintf(os.Stderr, "Warning: config references unset variable %s\n", name)
		}
	}

	override := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	override("store", &cfg.Store.Backend)
	override("store-table", &cfg.Store.Table)
	override("store-path", &cfg.Store.Path)
	override("blob", &cfg.Blob.Backend)
	override("blob-path", &cfg.Blob.Path)
	override("key-prefix", &cfg.KeyPrefix)

	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
