package adapter

import (
	"context"
	"sync"
)

// Message is one delivery seen by a StubSink.
type Message struct {
	ChannelID uint64
	Text      string
}

// StubSink records messages instead of delivering them.
// Used by `dispipe run --dry-run` and tests.
type StubSink struct {
	mu       sync.Mutex
	messages []Message
	inits    int
	closed   bool

	// InitErr, when set, is returned by Init.
	InitErr error
	// SendFunc, when set, decides the outcome of each Send.
	// A message is recorded only when SendFunc returns nil.
	SendFunc func(channelID uint64, text string) error
	// OnSend, when set, is called after a message is recorded.
	OnSend func(Message)
}

// NewStubSink creates an empty StubSink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Name implements Named.
func (s *StubSink) Name() string { return "stub" }

// Init implements Sink.
func (s *StubSink) Init(context.Context) error {
	s.mu.Lock()
	s.inits++
	s.mu.Unlock()
	return s.InitErr
}

// Send implements Sink.
func (s *StubSink) Send(ctx context.Context, channelID uint64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.SendFunc != nil {
		if err := s.SendFunc(channelID, text); err != nil {
			return err
		}
	}
	msg := Message{ChannelID: channelID, Text: text}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	onSend := s.OnSend
	s.mu.Unlock()
	if onSend != nil {
		onSend(msg)
	}
	return nil
}

// Close implements Sink.
func (s *StubSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of every recorded message in delivery order.
func (s *StubSink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Inits returns how many times Init was called.
func (s *StubSink) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

// Closed reports whether Close was called.
func (s *StubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ Sink  = (*StubSink)(nil)
	_ Named = (*StubSink)(nil)
)
