package runtime

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/ipc"
	"github.com/pithecene-io/dispipe/metrics"
	"github.com/pithecene-io/dispipe/types"
)

type step struct {
	frame types.Frame
	err   error
}

// scriptedSource serves frames and errors from a channel.
type scriptedSource struct {
	steps chan step
}

func newScriptedSource(steps ...step) *scriptedSource {
	s := &scriptedSource{steps: make(chan step, len(steps)+8)}
	for _, st := range steps {
		s.steps <- st
	}
	return s
}

func (s *scriptedSource) ReadFrame(ctx context.Context, _ string) (types.Frame, error) {
	select {
	case st := <-s.steps:
		return st.frame, st.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// eventLog collects recorded events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{}, 64)}
}

func (l *eventLog) Record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// waitEvents blocks until at least n events were recorded.
func (l *eventLog) waitEvents(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if evs := l.snapshot(); len(evs) >= n {
			return evs
		}
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d", n, len(l.snapshot()))
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var alerts = types.PipeMapping{Label: "alerts", Path: "/unused/alerts", ChannelID: 123}

func startWorker(t *testing.T, cfg WorkerConfig) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(t.Context())
	ch := make(chan error, 1)
	w := NewWorker(cfg)
	go func() { ch <- w.Run(ctx) }()
	return cancelCtx, ch
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for return")
		return nil
	}
}

func TestWorker_DeliversFrameVerbatim(t *testing.T) {
	sink := adapter.NewStubSink()
	events := newEventLog()
	echo := &syncBuffer{}
	c := metrics.NewCollector("stub")

	cancel, done := startWorker(t, WorkerConfig{
		Mapping:   alerts,
		Reader:    newScriptedSource(step{frame: types.Frame("hello\n")}),
		Sink:      sink,
		Recorder:  events,
		Echo:      echo,
		Collector: c,
	})

	evs := events.waitEvents(t, 1)
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := sink.Messages()
	if len(msgs) != 1 || msgs[0].ChannelID != 123 || msgs[0].Text != "hello\n" {
		t.Fatalf("messages = %+v", msgs)
	}
	if evs[0].Kind != EventDelivered || evs[0].Label != "alerts" {
		t.Errorf("event = %+v", evs[0])
	}
	if echo.String() != "alerts|hello\n" {
		t.Errorf("echo = %q", echo.String())
	}
	p, _ := c.Snapshot().Pipe("alerts")
	if p.FramesRead != 1 || p.SendsSucceeded != 1 {
		t.Errorf("counters = %+v", p)
	}
}

func TestWorker_SendFailureIsNotRetried(t *testing.T) {
	sink := adapter.NewStubSink()
	var calls int
	var mu sync.Mutex
	sink.SendFunc = func(uint64, string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("sink unavailable")
		}
		return nil
	}
	events := newEventLog()
	c := metrics.NewCollector("stub")

	cancel, done := startWorker(t, WorkerConfig{
		Mapping:   alerts,
		Reader:    newScriptedSource(step{frame: types.Frame("first\n")}, step{frame: types.Frame("second\n")}),
		Sink:      sink,
		Recorder:  events,
		Collector: c,
	})

	evs := events.waitEvents(t, 2)
	cancel()
	_ = waitDone(t, done)

	if evs[0].Kind != EventSendFailed || evs[0].Text != "first\n" || evs[0].Err == nil {
		t.Errorf("first event = %+v", evs[0])
	}
	if evs[1].Kind != EventDelivered || evs[1].Text != "second\n" {
		t.Errorf("second event = %+v", evs[1])
	}
	msgs := sink.Messages()
	if len(msgs) != 1 || msgs[0].Text != "second\n" {
		t.Errorf("messages = %+v (first frame must not be retried)", msgs)
	}
	p, _ := c.Snapshot().Pipe("alerts")
	if p.SendsFailed != 1 || p.SendsSucceeded != 1 {
		t.Errorf("counters = %+v", p)
	}
}

func TestWorker_ReadErrorsContinue(t *testing.T) {
	sink := adapter.NewStubSink()
	events := newEventLog()
	c := metrics.NewCollector("stub")

	cancel, done := startWorker(t, WorkerConfig{
		Mapping: alerts,
		Reader: newScriptedSource(
			step{err: &ipc.FrameError{Kind: ipc.FrameErrorOpen, Path: alerts.Path, Err: errors.New("no such file")}},
			step{err: &ipc.FrameError{Kind: ipc.FrameErrorEncoding, Path: alerts.Path, Err: errors.New("bad utf-8")}},
			step{frame: types.Frame("after\n")},
		),
		Sink:      sink,
		Recorder:  events,
		Collector: c,
	})

	evs := events.waitEvents(t, 3)
	cancel()
	_ = waitDone(t, done)

	if evs[0].Kind != EventReadFailed || evs[0].ErrorKind != "open" {
		t.Errorf("event 0 = %+v", evs[0])
	}
	if evs[1].Kind != EventReadFailed || evs[1].ErrorKind != "encoding" {
		t.Errorf("event 1 = %+v", evs[1])
	}
	if evs[2].Kind != EventDelivered || evs[2].Text != "after\n" {
		t.Errorf("event 2 = %+v", evs[2])
	}
	p, _ := c.Snapshot().Pipe("alerts")
	if p.ReadErrors["open"] != 1 || p.ReadErrors["encoding"] != 1 {
		t.Errorf("read errors = %v", p.ReadErrors)
	}
}

func TestWorker_TruncatedFrameCounted(t *testing.T) {
	sink := adapter.NewStubSink()
	events := newEventLog()
	c := metrics.NewCollector("stub")
	long := types.Frame(strings.Repeat("a", types.MaxFrameSize))

	cancel, done := startWorker(t, WorkerConfig{
		Mapping:   alerts,
		Reader:    newScriptedSource(step{frame: long}),
		Sink:      sink,
		Recorder:  events,
		Collector: c,
	})

	evs := events.waitEvents(t, 1)
	cancel()
	_ = waitDone(t, done)

	if !evs[0].Truncated {
		t.Error("event should be marked truncated")
	}
	p, _ := c.Snapshot().Pipe("alerts")
	if p.FramesTruncated != 1 || p.BytesRead != int64(types.MaxFrameSize) {
		t.Errorf("counters = %+v", p)
	}
}

func TestWorker_InFlightSendSurvivesCancel(t *testing.T) {
	sink := adapter.NewStubSink()
	entered := make(chan struct{})
	release := make(chan struct{})
	sink.SendFunc = func(uint64, string) error {
		close(entered)
		<-release
		return nil
	}
	events := newEventLog()

	cancel, done := startWorker(t, WorkerConfig{
		Mapping:  alerts,
		Reader:   newScriptedSource(step{frame: types.Frame("late\n")}),
		Sink:     sink,
		Recorder: events,
	})

	<-entered
	cancel()
	close(release)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := events.snapshot()
	if len(evs) != 1 || evs[0].Kind != EventDelivered {
		t.Fatalf("events = %+v, want one delivery", evs)
	}
}

func TestWorker_SendTimeout(t *testing.T) {
	sink := &blockingSink{StubSink: adapter.NewStubSink()}
	events := newEventLog()

	cancel, done := startWorker(t, WorkerConfig{
		Mapping:     alerts,
		Reader:      newScriptedSource(step{frame: types.Frame("slow\n")}),
		Sink:        sink,
		Recorder:    events,
		SendTimeout: 20 * time.Millisecond,
	})

	evs := events.waitEvents(t, 1)
	cancel()
	_ = waitDone(t, done)

	if evs[0].Kind != EventSendFailed || !errors.Is(evs[0].Err, context.DeadlineExceeded) {
		t.Errorf("event = %+v", evs[0])
	}
}

// blockingSink blocks every Send until its context ends.
type blockingSink struct {
	*adapter.StubSink
}

func (b *blockingSink) Send(ctx context.Context, _ uint64, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
