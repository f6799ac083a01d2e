package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/pipe"
	"github.com/pithecene-io/dispipe/runtime"
)

// Exit codes of `dispipe run`. The other commands reuse the subset that
// applies to them.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitConfig    = 2
	ExitSinkInit  = 3
	ExitProvision = 4
	ExitLocked    = 5
	ExitSession   = 6
)

// ExitCode maps a relay error to its exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	stage, ok := runtime.StageOf(err)
	if !ok {
		return ExitFailure
	}
	switch stage {
	case runtime.StageValidate:
		return ExitConfig
	case runtime.StageLock:
		if errors.Is(err, pipe.ErrLocked) {
			return ExitLocked
		}
		return ExitProvision
	case runtime.StageSinkInit:
		return ExitSinkInit
	case runtime.StageProvision:
		return ExitProvision
	case runtime.StageSession:
		return ExitSession
	default:
		return ExitFailure
	}
}

// exitErr wraps err in a cli.Exit carrying its exit code. nil stays nil.
func exitErr(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), ExitCode(err))
}
