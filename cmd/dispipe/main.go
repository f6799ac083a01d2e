// Package main provides the dispipe CLI entrypoint.
//
// Usage:
//
//	dispipe <command> [options]
//
// Exit codes for `run`:
//   - 0: clean shutdown
//   - 1: unexpected error
//   - 2: configuration load or validation failure
//   - 3: sink initialization failure
//   - 4: pipe provisioning failure
//   - 5: root already locked by another dispipe process
//   - 6: sink session ended with an error
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/cli/cmd"
	"github.com/pithecene-io/dispipe/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitConfig)
	}

	app := &cli.App{
		Name:           types.ServiceName,
		Usage:          "Relay lines written to named pipes into chat channels",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.CheckCommand(),
			cmd.ProvisionCommand(),
			cmd.SendCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(cmd.ExitFailure)
	}
}

// loadDotEnv loads variables from path without overriding the environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(err))
}

// reportError prints err to stderr and returns the exit code for it.
func reportError(err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := err.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		return code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return cmd.ExitFailure
}
