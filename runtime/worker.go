package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/ipc"
	"github.com/pithecene-io/dispipe/log"
	"github.com/pithecene-io/dispipe/metrics"
	"github.com/pithecene-io/dispipe/types"
)

// DefaultSendTimeout bounds a single sink call.
const DefaultSendTimeout = 30 * time.Second

// FrameSource reads one frame from a pipe. *ipc.FrameReader implements it.
type FrameSource interface {
	ReadFrame(ctx context.Context, path string) (types.Frame, error)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Mapping is the pipe and channel this worker relays.
	Mapping types.PipeMapping
	// Reader defaults to ipc.NewFrameReader().
	Reader FrameSource
	// Sink is shared by all workers (required).
	Sink adapter.Sink
	// SendTimeout defaults to DefaultSendTimeout.
	SendTimeout time.Duration
	// Logger defaults to log.Nop().
	Logger *log.Logger
	// Collector may be nil.
	Collector *metrics.Collector
	// Recorder may be nil.
	Recorder Recorder
	// Echo, when set, receives a "label|text" line per delivered frame.
	Echo io.Writer
}

// Worker relays frames from one pipe to one channel.
//
// Cycle errors (open, read, encoding, send) are logged and counted and the
// loop continues at once; nothing in a cycle stops the worker. Frames are
// sent one at a time in read order.
type Worker struct {
	mapping     types.PipeMapping
	reader      FrameSource
	sink        adapter.Sink
	sendTimeout time.Duration
	logger      *log.Logger
	collector   *metrics.Collector
	recorder    Recorder
	echo        io.Writer
}

// NewWorker creates a worker from cfg.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		mapping:     cfg.Mapping,
		reader:      cfg.Reader,
		sink:        cfg.Sink,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		collector:   cfg.Collector,
		recorder:    cfg.Recorder,
		echo:        cfg.Echo,
	}
	if w.reader == nil {
		w.reader = ipc.NewFrameReader()
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = DefaultSendTimeout
	}
	if w.logger == nil {
		w.logger = log.Nop()
	}
	w.logger = w.logger.With(map[string]any{
		"label":      cfg.Mapping.Label,
		"path":       cfg.Mapping.Path,
		"channel_id": cfg.Mapping.ChannelID,
	})
	if w.recorder == nil {
		w.recorder = nopRecorder{}
	}
	return w
}

// Run loops read -> send until ctx ends. It returns nil on shutdown.
//
// A read blocked waiting for a writer does not observe ctx; the supervisor
// releases it with ipc.Wake. A frame already read when ctx ends is still
// delivered.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("worker started", nil)
	defer w.logger.Debug("worker stopped", nil)

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := w.reader.ReadFrame(ctx, w.mapping.Path)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.readFailed(err)
			continue
		}

		w.collector.IncFrameRead(w.mapping.Label, len(frame), frame.Truncated())
		w.deliver(ctx, frame)
	}
}

func (w *Worker) readFailed(err error) {
	kind := "unknown"
	if k, ok := ipc.FrameErrorKindOf(err); ok {
		kind = k.String()
	}
	w.logger.Error("pipe read failed", map[string]any{
		"kind":  kind,
		"error": err.Error(),
	})
	w.collector.IncReadError(w.mapping.Label, kind)
	w.recorder.Record(Event{
		ID:        uuid.New(),
		Kind:      EventReadFailed,
		Label:     w.mapping.Label,
		Path:      w.mapping.Path,
		ChannelID: w.mapping.ChannelID,
		ErrorKind: kind,
		Err:       err,
		At:        time.Now(),
	})
}

// deliver sends one frame. The send runs detached from shutdown so a frame
// that was read is not lost to cancellation; SendTimeout still bounds it.
func (w *Worker) deliver(ctx context.Context, frame types.Frame) {
	text := frame.Text()
	event := Event{
		ID:        uuid.New(),
		Label:     w.mapping.Label,
		Path:      w.mapping.Path,
		ChannelID: w.mapping.ChannelID,
		Text:      text,
		Truncated: frame.Truncated(),
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.sendTimeout)
	err := w.sink.Send(sendCtx, w.mapping.ChannelID, text)
	cancel()
	event.At = time.Now()

	if err != nil {
		w.logger.Error("send failed", map[string]any{
			"delivery_id": event.ID.String(),
			"bytes":       len(frame),
			"error":       err.Error(),
		})
		w.collector.IncSendFailed(w.mapping.Label)
		event.Kind = EventSendFailed
		event.Err = err
		w.recorder.Record(event)
		return
	}

	w.logger.Debug("relayed", map[string]any{
		"delivery_id": event.ID.String(),
		"bytes":       len(frame),
		"truncated":   event.Truncated,
	})
	if w.echo != nil {
		_, _ = fmt.Fprintf(w.echo, "%s|%s\n", w.mapping.Label, frame.Trimmed())
	}
	w.collector.IncSendSucceeded(w.mapping.Label, event.At)
	event.Kind = EventDelivered
	w.recorder.Record(event)
}
