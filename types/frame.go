package types

import "bytes"

// MaxFrameSize is the largest frame in bytes. Matches the chat service's
// message size limit.
const MaxFrameSize = 2000

// Frame is one message read from a pipe: the bytes up to and including the
// first newline, or exactly MaxFrameSize bytes when no newline came first.
type Frame []byte

// Text returns the frame as a string, newline included.
func (f Frame) Text() string {
	return string(f)
}

// Terminated reports whether the frame ended on a newline.
func (f Frame) Terminated() bool {
	return len(f) > 0 && f[len(f)-1] == '\n'
}

// Truncated reports whether the frame was cut at MaxFrameSize.
func (f Frame) Truncated() bool {
	return len(f) == MaxFrameSize && !f.Terminated()
}

// Trimmed returns the frame text without its trailing newline.
func (f Frame) Trimmed() string {
	return string(bytes.TrimSuffix(f, []byte{'\n'}))
}
