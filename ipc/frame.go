// Package ipc reads newline-framed messages from named pipes.
//
// Each ReadFrame call opens the pipe, reads one frame, and closes the pipe
// again. Writers that open, write one message, and close therefore always
// meet a fresh reader, and a writer that connects and leaves without sending
// anything is never turned into an empty message.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/pithecene-io/dispipe/iox"
	"github.com/pithecene-io/dispipe/types"
)

// FrameErrorKind classifies frame read errors.
type FrameErrorKind int

const (
	// FrameErrorOpen indicates the pipe could not be opened.
	FrameErrorOpen FrameErrorKind = iota
	// FrameErrorRead indicates a read on the open pipe failed.
	FrameErrorRead
	// FrameErrorEncoding indicates the frame is not valid UTF-8.
	FrameErrorEncoding
)

// String returns the kind name used in logs and metric labels.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorOpen:
		return "open"
	case FrameErrorRead:
		return "read"
	case FrameErrorEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// FrameError represents a failed read cycle on one pipe.
// All kinds are recoverable: the next ReadFrame call starts a fresh cycle.
type FrameError struct {
	Kind FrameErrorKind
	Path string
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// FrameErrorKindOf returns the kind of a *FrameError in err's chain.
func FrameErrorKindOf(err error) (FrameErrorKind, bool) {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind, true
	}
	return 0, false
}

// ErrNotFIFO is returned when the path exists but is not a named pipe.
var ErrNotFIFO = errors.New("not a named pipe")

// Opener opens a pipe for reading. Blocks until a writer connects.
type Opener func(path string) (io.ReadCloser, error)

// FrameReader extracts frames from named pipes.
// A FrameReader holds no per-pipe state and is safe for concurrent use.
type FrameReader struct {
	open Opener
}

// Option configures a FrameReader.
type Option func(*FrameReader)

// WithOpener replaces the pipe opener.
func WithOpener(open Opener) Option {
	return func(r *FrameReader) {
		r.open = open
	}
}

// NewFrameReader creates a frame reader that opens real FIFOs.
func NewFrameReader(opts ...Option) *FrameReader {
	r := &FrameReader{open: OpenFIFO}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenFIFO opens path read-only and checks that it is a named pipe.
// The open blocks until a writer connects.
func OpenFIFO(path string) (io.ReadCloser, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		iox.DiscardClose(f)
		return nil, err
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		iox.DiscardClose(f)
		return nil, ErrNotFIFO
	}
	return f, nil
}

// ReadFrame blocks until one frame arrives on the pipe at path.
//
// The frame ends after the first newline byte (kept) or at
// types.MaxFrameSize bytes, whichever comes first. When the cap is hit,
// everything the writer sends until it closes is discarded, so no byte past
// the cap reaches a later frame. If a writer closes before sending anything the
// pipe is reopened and the wait starts over; an empty frame is never
// returned. EOF after a partial line returns that partial frame.
//
// ctx is checked before every open. It cannot interrupt an open that is
// already blocked; use Wake for that.
//
// Errors:
//   - ctx.Err(): the context ended between cycles
//   - *FrameError: open, read, or encoding failure (recoverable)
func (r *FrameReader) ReadFrame(ctx context.Context, path string) (types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf, err := r.readOnce(path)
		if err != nil {
			return nil, err
		}
		if len(buf) == 0 {
			continue
		}
		if !utf8.Valid(buf) {
			return nil, &FrameError{
				Kind: FrameErrorEncoding,
				Path: path,
				Err:  fmt.Errorf("%d bytes are not valid UTF-8", len(buf)),
			}
		}
		return types.Frame(buf), nil
	}
}

// readOnce runs one open/read/close cycle.
func (r *FrameReader) readOnce(path string) ([]byte, error) {
	f, err := r.open(path)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorOpen, Path: path, Err: err}
	}
	defer iox.DiscardClose(f)

	buf := make([]byte, 0, types.MaxFrameSize)
	// One byte per read so nothing past the newline is consumed.
	var one [1]byte
	for len(buf) < types.MaxFrameSize {
		n, err := f.Read(one[:])
		if n > 0 {
			buf = append(buf, one[0])
			if one[0] == '\n' {
				break
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &FrameError{Kind: FrameErrorRead, Path: path, Err: err}
		}
	}
	if types.Frame(buf).Truncated() {
		// The rest of this writer's data is dropped. Closing with it still
		// buffered would hand it to the next cycle as a frame of its own.
		if _, err := io.Copy(io.Discard, f); err != nil {
			return nil, &FrameError{Kind: FrameErrorRead, Path: path, Err: err}
		}
	}
	return buf, nil
}

// Wake releases a reader blocked opening the pipe at path by briefly opening
// the write end without blocking. The reader then sees an empty cycle and
// re-checks its context. Reports false when no reader was waiting.
func Wake(path string) (bool, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return false, nil
		}
		return false, fmt.Errorf("wake %s: %w", path, err)
	}
	_ = unix.Close(fd)
	return true, nil
}
