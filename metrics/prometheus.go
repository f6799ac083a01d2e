package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dispipe"

// PromCollector exposes Collector snapshots as Prometheus metrics.
// Values are read on each scrape; nothing is double-counted.
type PromCollector struct {
	source *Collector

	framesRead      *prometheus.Desc
	framesTruncated *prometheus.Desc
	bytesRead       *prometheus.Desc
	readErrors      *prometheus.Desc
	sendsSucceeded  *prometheus.Desc
	sendsFailed     *prometheus.Desc
	sinkCalls       *prometheus.Desc
	sinkFailures    *prometheus.Desc
	sinkSeconds     *prometheus.Desc
	uptime          *prometheus.Desc
}

// NewPromCollector wraps c for registration with a prometheus.Registry.
func NewPromCollector(c *Collector) *PromCollector {
	pipeLabels := []string{"label", "channel_id"}
	return &PromCollector{
		source:          c,
		framesRead:      prometheus.NewDesc(namespace+"_frames_read_total", "Frames read from pipes", pipeLabels, nil),
		framesTruncated: prometheus.NewDesc(namespace+"_frames_truncated_total", "Frames cut at the size limit", pipeLabels, nil),
		bytesRead:       prometheus.NewDesc(namespace+"_bytes_read_total", "Bytes read from pipes", pipeLabels, nil),
		readErrors:      prometheus.NewDesc(namespace+"_read_errors_total", "Failed pipe read cycles", append(pipeLabels, "kind"), nil),
		sendsSucceeded:  prometheus.NewDesc(namespace+"_sends_succeeded_total", "Frames delivered to the sink", pipeLabels, nil),
		sendsFailed:     prometheus.NewDesc(namespace+"_sends_failed_total", "Frames the sink rejected", pipeLabels, nil),
		sinkCalls:       prometheus.NewDesc(namespace+"_sink_calls_total", "Sink send calls", []string{"sink"}, nil),
		sinkFailures:    prometheus.NewDesc(namespace+"_sink_failures_total", "Failed sink send calls", []string{"sink"}, nil),
		sinkSeconds:     prometheus.NewDesc(namespace+"_sink_seconds_total", "Time spent in sink send calls", []string{"sink"}, nil),
		uptime:          prometheus.NewDesc(namespace+"_start_time_seconds", "Process start time as a unix timestamp", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (p *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.framesRead
	ch <- p.framesTruncated
	ch <- p.bytesRead
	ch <- p.readErrors
	ch <- p.sendsSucceeded
	ch <- p.sendsFailed
	ch <- p.sinkCalls
	ch <- p.sinkFailures
	ch <- p.sinkSeconds
	ch <- p.uptime
}

// Collect implements prometheus.Collector.
func (p *PromCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.Snapshot()

	counter := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, labels...)
	}

	for _, pipe := range s.Pipes {
		channel := strconv.FormatUint(pipe.ChannelID, 10)
		counter(p.framesRead, float64(pipe.FramesRead), pipe.Label, channel)
		counter(p.framesTruncated, float64(pipe.FramesTruncated), pipe.Label, channel)
		counter(p.bytesRead, float64(pipe.BytesRead), pipe.Label, channel)
		counter(p.sendsSucceeded, float64(pipe.SendsSucceeded), pipe.Label, channel)
		counter(p.sendsFailed, float64(pipe.SendsFailed), pipe.Label, channel)
		for kind, n := range pipe.ReadErrors {
			counter(p.readErrors, float64(n), pipe.Label, channel, kind)
		}
	}

	counter(p.sinkCalls, float64(s.SinkCalls), s.Sink)
	counter(p.sinkFailures, float64(s.SinkFailures), s.Sink)
	counter(p.sinkSeconds, s.SinkSeconds, s.Sink)
	if !s.StartedAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(p.uptime, prometheus.GaugeValue, float64(s.StartedAt.Unix()))
	}
}

// Verify PromCollector implements prometheus.Collector.
var _ prometheus.Collector = (*PromCollector)(nil)
