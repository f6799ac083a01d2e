package adapter

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pithecene-io/dispipe/metrics"
)

const tracerName = "github.com/pithecene-io/dispipe/adapter"

// InstrumentedSink wraps a Sink, timing every Send into a metrics.Collector
// and an OpenTelemetry span named "dispipe.send".
//
// Named is forwarded to the wrapped sink; SessionOf finds the wrapped
// sink's session through Unwrap.
type InstrumentedSink struct {
	inner     Sink
	collector *metrics.Collector
	tracer    trace.Tracer
}

// Instrument wraps s. A nil collector disables metrics; spans go to the
// global tracer provider, which is a no-op unless tracing was initialized.
func Instrument(s Sink, c *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{
		inner:     s,
		collector: c,
		tracer:    otel.Tracer(tracerName),
	}
}

// Unwrap returns the wrapped sink.
func (s *InstrumentedSink) Unwrap() Sink { return s.inner }

// Name implements Named.
func (s *InstrumentedSink) Name() string { return NameOf(s.inner) }

// Init implements Sink.
func (s *InstrumentedSink) Init(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "dispipe.init",
		trace.WithAttributes(attribute.String("dispipe.sink", s.Name())))
	defer span.End()

	err := s.inner.Init(ctx)
	recordSpan(span, err)
	return err
}

// Send implements Sink.
func (s *InstrumentedSink) Send(ctx context.Context, channelID uint64, text string) error {
	ctx, span := s.tracer.Start(ctx, "dispipe.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dispipe.sink", s.Name()),
			attribute.String("dispipe.channel_id", strconv.FormatUint(channelID, 10)),
			attribute.Int("dispipe.bytes", len(text)),
		))
	defer span.End()

	start := time.Now()
	err := s.inner.Send(ctx, channelID, text)
	s.collector.ObserveSinkCall(time.Since(start), err)
	recordSpan(span, err)
	return err
}

// Close implements Sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

func recordSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

var (
	_ Sink  = (*InstrumentedSink)(nil)
	_ Named = (*InstrumentedSink)(nil)
)
