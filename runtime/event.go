package runtime

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies relay events.
type EventKind string

// Relay event kinds.
const (
	EventDelivered  EventKind = "delivered"
	EventSendFailed EventKind = "send_failed"
	EventReadFailed EventKind = "read_failed"
)

// Event describes one outcome of a worker cycle.
type Event struct {
	ID        uuid.UUID
	Kind      EventKind
	Label     string
	Path      string
	ChannelID uint64
	// Text is the frame text; empty for read failures.
	Text      string
	Truncated bool
	// ErrorKind is the frame error kind for read failures.
	ErrorKind string
	Err       error
	At        time.Time
}

// Recorder observes relay events. Record is called from worker goroutines
// and must be safe for concurrent use and must not block for long.
type Recorder interface {
	Record(Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
