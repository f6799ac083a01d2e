// Package iox provides small helpers for closing resources.
package iox

import (
	"errors"
	"io"
)

// DiscardClose closes c and drops the error. For defers where a close
// failure changes nothing, such as the read end of a pipe:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(sink))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// CloseInto closes c and joins any close error into *errp. Use with a named
// error return when a failed close must not go unnoticed:
//
//	defer iox.CloseInto(f, &err)
func CloseInto(c io.Closer, errp *error) {
	if cerr := c.Close(); cerr != nil {
		*errp = errors.Join(*errp, cerr)
	}
}
