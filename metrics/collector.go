// Package metrics collects relay counters.
//
// The Collector accumulates per-pipe counters for the life of the process.
// It is a leaf package with no internal dependencies; PromCollector exposes
// its snapshots to Prometheus.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// PipeSnapshot holds the counters of one pipe mapping.
type PipeSnapshot struct {
	Label     string `json:"label"`
	ChannelID uint64 `json:"channel_id"`

	FramesRead      int64            `json:"frames_read"`
	FramesTruncated int64            `json:"frames_truncated"`
	BytesRead       int64            `json:"bytes_read"`
	ReadErrors      map[string]int64 `json:"read_errors"`

	SendsSucceeded int64 `json:"sends_succeeded"`
	SendsFailed    int64 `json:"sends_failed"`

	LastDelivery time.Time `json:"last_delivery,omitzero"`
}

// Snapshot is an immutable point-in-time view of all counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Sink is the sink type the process delivers through.
	Sink string `json:"sink"`
	// StartedAt is when the collector was created.
	StartedAt time.Time `json:"started_at"`

	// Sink calls per channel, recorded by the instrumented sink.
	SinkCalls    int64   `json:"sink_calls"`
	SinkFailures int64   `json:"sink_failures"`
	SinkSeconds  float64 `json:"sink_seconds"`

	// Pipes is sorted by label.
	Pipes []PipeSnapshot `json:"pipes"`
}

type pipeCounters struct {
	channelID       uint64
	framesRead      int64
	framesTruncated int64
	bytesRead       int64
	readErrors      map[string]int64
	sendsSucceeded  int64
	sendsFailed     int64
	lastDelivery    time.Time
}

// Collector accumulates relay metrics.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sink      string
	startedAt time.Time

	sinkCalls    int64
	sinkFailures int64
	sinkSeconds  float64

	pipes map[string]*pipeCounters
}

// NewCollector creates a Collector for the given sink type.
func NewCollector(sink string) *Collector {
	return &Collector{
		sink:      sink,
		startedAt: time.Now(),
		pipes:     make(map[string]*pipeCounters),
	}
}

// pipe returns the counters for label, creating them. Caller holds mu.
func (c *Collector) pipe(label string) *pipeCounters {
	p, ok := c.pipes[label]
	if !ok {
		p = &pipeCounters{readErrors: make(map[string]int64)}
		c.pipes[label] = p
	}
	return p
}

// --- Pipes ---

// RegisterPipe makes a mapping visible in snapshots before its first frame.
func (c *Collector) RegisterPipe(label string, channelID uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pipe(label).channelID = channelID
	c.mu.Unlock()
}

// IncFrameRead records a frame read from a pipe.
func (c *Collector) IncFrameRead(label string, size int, truncated bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	p := c.pipe(label)
	p.framesRead++
	p.bytesRead += int64(size)
	if truncated {
		p.framesTruncated++
	}
	c.mu.Unlock()
}

// IncReadError records a failed read cycle by error kind.
func (c *Collector) IncReadError(label, kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pipe(label).readErrors[kind]++
	c.mu.Unlock()
}

// IncSendSucceeded records a delivered frame.
func (c *Collector) IncSendSucceeded(label string, at time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	p := c.pipe(label)
	p.sendsSucceeded++
	p.lastDelivery = at
	c.mu.Unlock()
}

// IncSendFailed records a frame the sink rejected.
func (c *Collector) IncSendFailed(label string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pipe(label).sendsFailed++
	c.mu.Unlock()
}

// --- Sink ---
// Sink counters are per call regardless of pipe; the instrumented sink does
// not know which mapping a channel belongs to.

// ObserveSinkCall records one sink call and its latency.
func (c *Collector) ObserveSinkCall(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sinkCalls++
	c.sinkSeconds += d.Seconds()
	if err != nil {
		c.sinkFailures++
	}
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	labels := make([]string, 0, len(c.pipes))
	for label := range c.pipes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	pipes := make([]PipeSnapshot, 0, len(labels))
	for _, label := range labels {
		p := c.pipes[label]
		readErrors := make(map[string]int64, len(p.readErrors))
		for k, v := range p.readErrors {
			readErrors[k] = v
		}
		pipes = append(pipes, PipeSnapshot{
			Label:           label,
			ChannelID:       p.channelID,
			FramesRead:      p.framesRead,
			FramesTruncated: p.framesTruncated,
			BytesRead:       p.bytesRead,
			ReadErrors:      readErrors,
			SendsSucceeded:  p.sendsSucceeded,
			SendsFailed:     p.sendsFailed,
			LastDelivery:    p.lastDelivery,
		})
	}

	return Snapshot{
		Sink:         c.sink,
		StartedAt:    c.startedAt,
		SinkCalls:    c.sinkCalls,
		SinkFailures: c.sinkFailures,
		SinkSeconds:  c.sinkSeconds,
		Pipes:        pipes,
	}
}

// Pipe returns the snapshot of one label, if known.
func (s Snapshot) Pipe(label string) (PipeSnapshot, bool) {
	for _, p := range s.Pipes {
		if p.Label == label {
			return p, true
		}
	}
	return PipeSnapshot{}, false
}
