package pipe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/dispipe/types"
)

// ValidationError lists every filesystem problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Entry describes what currently sits at a mapping's pipe path.
type Entry string

// Entry kinds reported by Inspect.
const (
	EntryMissing Entry = "missing"
	EntryFIFO    Entry = "fifo"
	EntryFile    Entry = "file"
	EntryDir     Entry = "directory"
	EntryOther   Entry = "other"
)

// Inspect classifies the filesystem entry at path, following symlinks.
// A symlink whose target is missing is reported as EntryOther: a FIFO
// cannot be created in its place.
func Inspect(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(path); lerr == nil {
			return EntryOther, nil
		}
		return EntryMissing, nil
	}
	mode := info.Mode()
	switch {
	case mode&fs.ModeNamedPipe != 0:
		return EntryFIFO, nil
	case mode.IsRegular():
		return EntryFile, nil
	case mode.IsDir():
		return EntryDir, nil
	default:
		return EntryOther, nil
	}
}

// Validate checks the filesystem invariants of cfg before any pipe is
// created or any worker starts:
//   - root is absolute, exists, and is a directory
//   - every pipe path is unique and lies inside root
//   - an entry already present at a pipe path is a FIFO
//
// It returns a *ValidationError carrying every problem, or nil.
func Validate(cfg *types.Config) error {
	verr := &ValidationError{}

	rootOK := true
	switch {
	case cfg.Root == "":
		verr.add("root is empty")
		rootOK = false
	case !filepath.IsAbs(cfg.Root):
		verr.add("root path must be absolute: %q", cfg.Root)
		rootOK = false
	default:
		info, err := os.Stat(cfg.Root)
		switch {
		case err != nil:
			verr.add("root must point to a directory: %v", err)
			rootOK = false
		case !info.IsDir():
			verr.add("root must point to a directory: %s", cfg.Root)
			rootOK = false
		}
	}

	seen := make(map[string]string, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		path := filepath.Clean(m.Path)
		if prev, dup := seen[path]; dup {
			verr.add("pipes %q and %q share the path %s", prev, m.Label, path)
			continue
		}
		seen[path] = m.Label

		if rootOK && !within(cfg.Root, path) {
			verr.add("pipe %q path %s is outside root %s", m.Label, path, cfg.Root)
			continue
		}
		if !rootOK {
			continue
		}

		entry, err := Inspect(path)
		if err != nil {
			verr.add("pipe %q: cannot read metadata at path %s: %v", m.Label, path, err)
			continue
		}
		if entry != EntryMissing && entry != EntryFIFO {
			verr.add("pipe %q: %s already exists at %q. Please delete or move it", m.Label, entry, path)
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
