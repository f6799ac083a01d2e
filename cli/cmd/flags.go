// Package cmd provides CLI commands for the dispipe binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// ConfigFlag points at the configuration file.
	ConfigFlag = &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the configuration file (.yaml, .yml, .toml or .ini)",
		EnvVars:  []string{"DISPIPE_CONFIG"},
		Required: true,
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// DryRunFlag replaces the configured sink with one that only logs.
	DryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Log messages instead of delivering them",
	}
)

// ReportFlags returns the flags of commands that render a report.
func ReportFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		FormatFlag,
	}
}
