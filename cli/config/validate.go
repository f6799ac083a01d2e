package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pithecene-io/dispipe/pipe"
)

// Error lists every structural problem found in a config file.
type Error struct {
	Path     string
	Problems []string
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("config %s: %s", e.Path, e.Problems[0])
	}
	return fmt.Sprintf("config %s (%d problems):\n  - %s",
		e.Path, len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *Error) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the structure of the file: required properties, sink
// settings, unique labels and FIFO names, and channel values. Filesystem
// checks happen later in pipe.Validate. path is used in the error only.
//
// Returns a *Error carrying every problem, or nil.
func (f *File) Validate(path string) error {
	cerr := &Error{Path: path}

	if strings.TrimSpace(f.Root) == "" {
		cerr.add(`required property "root" is missing`)
	}

	f.validateSink(cerr)

	if f.SendTimeout.Duration < 0 {
		cerr.add(`"send_timeout" must not be negative`)
	}
	if f.Grace.Duration < 0 {
		cerr.add(`"grace" must not be negative`)
	}

	labels := make(map[string]int, len(f.Pipes))
	fifos := make(map[string]string, len(f.Pipes))
	for i, p := range f.Pipes {
		section := fmt.Sprintf("pipes[%d]", i)
		if p.Label != "" {
			section = fmt.Sprintf("pipe %q", p.Label)
		}

		if p.Label == "" {
			cerr.add(`%s: required property "label" is missing`, section)
		} else if prev, dup := labels[p.Label]; dup {
			cerr.add("%s: label already used by pipes[%d]", section, prev)
		} else {
			labels[p.Label] = i
		}

		switch {
		case p.FIFO == "":
			cerr.add(`%s: required property "fifo" is missing`, section)
		case !validFIFOName(p.FIFO):
			cerr.add("%s: fifo %q must be a plain file name inside root", section, p.FIFO)
		default:
			if prev, dup := fifos[p.FIFO]; dup {
				cerr.add("%s: fifo %q already used by pipe %q", section, p.FIFO, prev)
			} else {
				fifos[p.FIFO] = p.Label
			}
		}

		if p.Channel == nil {
			cerr.add(`%s: required property "channel" is missing`, section)
		} else if _, err := parseChannel(p.Channel); err != nil {
			cerr.add("%s: %v", section, err)
		}
	}

	if len(cerr.Problems) > 0 {
		return cerr
	}
	return nil
}

func (f *File) validateSink(cerr *Error) {
	s := f.Sink
	switch s.Type {
	case "":
		cerr.add(`sink: required property "type" is missing`)
	case SinkDiscord:
		if strings.TrimSpace(s.Token) == "" {
			cerr.add(`sink: required property "token" is missing`)
		}
		if s.RatePerSecond < 0 {
			cerr.add(`sink: "rate_per_second" must not be negative`)
		}
		if s.Burst < 0 {
			cerr.add(`sink: "burst" must not be negative`)
		}
	case SinkWebhook, SinkRedis:
		if s.URL == "" {
			cerr.add(`sink: required property "url" is missing`)
		}
		if s.Type == SinkRedis && s.Encoding != "" && s.Encoding != "json" && s.Encoding != "msgpack" {
			cerr.add(`sink: encoding %q must be json or msgpack`, s.Encoding)
		}
	default:
		cerr.add("sink: unknown type %q (must be discord, webhook, or redis)", s.Type)
	}
	if s.Timeout.Duration < 0 {
		cerr.add(`sink: "timeout" must not be negative`)
	}
}

// validFIFOName accepts a single path element other than the lock file.
func validFIFOName(name string) bool {
	if name == "." || name == ".." || name == pipe.LockFileName {
		return false
	}
	return !strings.ContainsRune(name, filepath.Separator) && filepath.Clean(name) == name
}

const channelNotInt = "Channel should be an integer value"

// parseChannel accepts an unsigned integer or a string holding one.
func parseChannel(v any) (uint64, error) {
	errNotInt := fmt.Errorf("%s, got %v", channelNotInt, v)
	switch c := v.(type) {
	case string:
		id, err := strconv.ParseUint(strings.TrimSpace(c), 10, 64)
		if err != nil {
			return 0, errNotInt
		}
		return id, nil
	case int:
		if c < 0 {
			return 0, errNotInt
		}
		return uint64(c), nil
	case int64:
		if c < 0 {
			return 0, errNotInt
		}
		return uint64(c), nil
	case uint64:
		return c, nil
	default:
		return 0, errNotInt
	}
}
