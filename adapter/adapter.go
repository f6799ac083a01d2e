// Package adapter defines the message sink boundary.
//
// A Sink delivers one text message to one chat channel. The runtime owns the
// sink lifecycle: Init once before any worker starts, Send from every worker
// concurrently, Close once after all workers have stopped. Sinks that keep a
// long-lived connection also implement Session.
package adapter

import (
	"context"
	"errors"
)

// Sink delivers messages to chat channels.
// Implementations must be safe for concurrent use by multiple workers.
type Sink interface {
	// Init verifies credentials and connectivity. Called once before Send.
	Init(ctx context.Context) error

	// Send delivers text to the channel as a single attempt.
	// Must respect context cancellation and deadlines.
	Send(ctx context.Context, channelID uint64, text string) error

	// Close releases sink resources.
	Close() error
}

// Session is implemented by sinks that maintain a connectivity loop.
// Run blocks until ctx ends or the session fails for good.
type Session interface {
	Run(ctx context.Context) error
}

// Named is implemented by sinks that report a type name for logs and metrics.
type Named interface {
	Name() string
}

// NameOf returns the sink's reported name, or "sink".
func NameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return "sink"
}

// ErrEmptyMessage is returned by sinks for a message with no content.
var ErrEmptyMessage = errors.New("empty message")

// SessionOf returns the connectivity loop of s, if it has one. Wrapping
// sinks are unwrapped first. A sink whose session is optional reports
// through HasSession whether it is enabled.
func SessionOf(s Sink) (Session, bool) {
	if w, ok := s.(interface{ Unwrap() Sink }); ok {
		return SessionOf(w.Unwrap())
	}
	sess, ok := s.(Session)
	if !ok {
		return nil, false
	}
	if w, ok := s.(interface{ HasSession() bool }); ok && !w.HasSession() {
		return nil, false
	}
	return sess, true
}
