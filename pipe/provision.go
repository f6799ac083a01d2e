// Package pipe validates and provisions the named pipes dispipe reads from.
//
// Validation runs once at startup and is fatal: a root that is not an
// absolute directory, two mappings sharing a path, or a non-FIFO entry at a
// pipe path all need a human to fix the configuration. Provisioning creates
// missing FIFOs and never deletes anything.
package pipe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pithecene-io/dispipe/types"
)

// FIFOMode is the permission set for created pipes: owner read/write.
const FIFOMode = 0o600

// ProvisionErrorKind classifies provisioning errors.
type ProvisionErrorKind int

const (
	// ProvisionCreateFailed indicates mkfifo failed.
	ProvisionCreateFailed ProvisionErrorKind = iota
	// ProvisionStatFailed indicates the path could not be inspected.
	ProvisionStatFailed
)

// ProvisionError reports a pipe that could not be provisioned.
type ProvisionError struct {
	Kind  ProvisionErrorKind
	Label string
	Path  string
	Err   error
}

func (e *ProvisionError) Error() string {
	switch e.Kind {
	case ProvisionStatFailed:
		return fmt.Sprintf("pipe %q: cannot inspect %s: %v", e.Label, e.Path, e.Err)
	default:
		return fmt.Sprintf("pipe %q: error creating fifo at %s: %v", e.Label, e.Path, e.Err)
	}
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// State describes what provisioning found or did at a pipe path.
type State string

// Provisioning states.
const (
	StateCreated  State = "created"
	StateExisting State = "existing"
)

// Result is the provisioning outcome for one mapping.
type Result struct {
	Mapping types.PipeMapping `json:"mapping"`
	State   State             `json:"state"`
}

// Ensure makes sure a FIFO exists at m.Path. When nothing is there, a FIFO
// is created with FIFOMode. When an entry exists it is left untouched;
// Validate has already checked that it is a FIFO.
func Ensure(m types.PipeMapping) (State, error) {
	_, err := os.Lstat(m.Path)
	if err == nil {
		return StateExisting, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", &ProvisionError{Kind: ProvisionStatFailed, Label: m.Label, Path: m.Path, Err: err}
	}

	if err := unix.Mkfifo(m.Path, FIFOMode); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return StateExisting, nil
		}
		return "", &ProvisionError{Kind: ProvisionCreateFailed, Label: m.Label, Path: m.Path, Err: err}
	}
	// mkfifo honors the umask; pin the mode explicitly.
	if err := os.Chmod(m.Path, FIFOMode); err != nil {
		return "", &ProvisionError{Kind: ProvisionCreateFailed, Label: m.Label, Path: m.Path, Err: err}
	}
	return StateCreated, nil
}

// EnsureAll provisions every mapping in order and stops at the first failure.
// Results for the mappings handled before the failure are still returned.
func EnsureAll(cfg *types.Config) ([]Result, error) {
	results := make([]Result, 0, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		state, err := Ensure(m)
		if err != nil {
			return results, err
		}
		results = append(results, Result{Mapping: m, State: state})
	}
	return results, nil
}
