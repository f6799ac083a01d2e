// Package runtime runs the relay: one worker per pipe mapping, supervised
// from validation through shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/ipc"
	"github.com/pithecene-io/dispipe/log"
	"github.com/pithecene-io/dispipe/metrics"
	"github.com/pithecene-io/dispipe/pipe"
	"github.com/pithecene-io/dispipe/types"
)

// Defaults.
const (
	DefaultGrace        = 5 * time.Second
	DefaultWakeInterval = 50 * time.Millisecond
)

// Stage names the supervisor step an error came from.
type Stage string

// Supervisor stages.
const (
	StageValidate  Stage = "validate"
	StageLock      Stage = "lock"
	StageSinkInit  Stage = "sink_init"
	StageProvision Stage = "provision"
	StageSession   Stage = "session"
)

// StartupError is a fatal supervisor error. All stages except StageSession
// happen before any worker starts.
type StartupError struct {
	Stage Stage
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage of a *StartupError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StartupError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Config is the validated-at-load relay configuration (required).
	Config *types.Config
	// Sink is shared by all workers (required). The supervisor owns its
	// lifecycle: Init before workers start, Close after they stop.
	Sink adapter.Sink
	// Reader defaults to ipc.NewFrameReader().
	Reader FrameSource
	// Logger defaults to log.Nop().
	Logger *log.Logger
	// Collector may be nil.
	Collector *metrics.Collector
	// Recorder may be nil.
	Recorder Recorder
	// Echo receives "label|text" lines for delivered frames. May be nil.
	Echo io.Writer
	// SendTimeout bounds each sink call (default 30s).
	SendTimeout time.Duration
	// Grace bounds how long shutdown waits for workers (default 5s).
	Grace time.Duration
	// WakeInterval is how often shutdown re-wakes blocked readers (default 50ms).
	WakeInterval time.Duration
	// OnReady, when set, is called once every pipe is provisioned, before
	// workers start.
	OnReady func([]pipe.Result)
}

// Supervisor turns a configuration into running workers.
type Supervisor struct {
	config       *types.Config
	sink         adapter.Sink
	reader       FrameSource
	logger       *log.Logger
	collector    *metrics.Collector
	recorder     Recorder
	echo         io.Writer
	sendTimeout  time.Duration
	grace        time.Duration
	wakeInterval time.Duration
	onReady      func([]pipe.Result)
}

// NewSupervisor creates a supervisor from cfg.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		config:       cfg.Config,
		sink:         cfg.Sink,
		reader:       cfg.Reader,
		logger:       cfg.Logger,
		collector:    cfg.Collector,
		recorder:     cfg.Recorder,
		echo:         cfg.Echo,
		sendTimeout:  cfg.SendTimeout,
		grace:        cfg.Grace,
		wakeInterval: cfg.WakeInterval,
		onReady:      cfg.OnReady,
	}
	if s.reader == nil {
		s.reader = ipc.NewFrameReader()
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	if s.grace <= 0 {
		s.grace = DefaultGrace
	}
	if s.wakeInterval <= 0 {
		s.wakeInterval = DefaultWakeInterval
	}
	return s
}

// Run validates, provisions, and relays until ctx ends.
//
// Startup order:
//  1. Validate the filesystem layout
//  2. Lock the root against a second dispipe process
//  3. Initialize the sink
//  4. Provision each pipe, in mapping order
//  5. Start one worker per mapping, plus the sink session if any
//
// Any startup failure is returned as a *StartupError before a worker starts,
// and nothing is created when validation fails. After startup, Run returns
// nil once ctx ends and workers stop (or the grace period runs out), or a
// *StartupError with StageSession when the sink session fails. With no
// mappings Run still waits for ctx.
//
// The sink is closed only after every worker has returned. When the grace
// period runs out with a worker still inside Send, the sink is left open for
// that send to finish or time out.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := pipe.Validate(s.config); err != nil {
		return &StartupError{Stage: StageValidate, Err: err}
	}

	lock, err := pipe.AcquireRootLock(s.config.Root)
	if err != nil {
		return &StartupError{Stage: StageLock, Err: err}
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("failed to release root lock", map[string]any{"error": err.Error()})
		}
	}()

	if err := s.sink.Init(ctx); err != nil {
		return &StartupError{Stage: StageSinkInit, Err: err}
	}
	var abandoned bool
	defer func() {
		if abandoned {
			s.logger.Warn("sink left open for workers still sending", nil)
			return
		}
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("failed to close sink", map[string]any{"error": err.Error()})
		}
	}()

	results := make([]pipe.Result, 0, len(s.config.Mappings))
	for _, m := range s.config.Mappings {
		state, err := pipe.Ensure(m)
		if err != nil {
			return &StartupError{Stage: StageProvision, Err: err}
		}
		results = append(results, pipe.Result{Mapping: m, State: state})
		s.collector.RegisterPipe(m.Label, m.ChannelID)
		s.logger.Info(fmt.Sprintf("FIFO: %s -> #%d", m.Path, m.ChannelID), map[string]any{
			"label": m.Label,
			"state": string(state),
		})
	}
	if len(s.config.Mappings) == 0 {
		s.logger.Warn("no pipes configured; waiting for shutdown", nil)
	}
	if s.onReady != nil {
		s.onReady(results)
	}

	abandoned, err = s.relay(ctx)
	return err
}

// relay runs the workers and the session and handles shutdown. It reports
// whether workers were abandoned at the end of the grace period.
func (s *Supervisor) relay(ctx context.Context) (bool, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(workCtx)

	for _, m := range s.config.Mappings {
		w := NewWorker(WorkerConfig{
			Mapping:     m,
			Reader:      s.reader,
			Sink:        s.sink,
			SendTimeout: s.sendTimeout,
			Logger:      s.logger,
			Collector:   s.collector,
			Recorder:    s.recorder,
			Echo:        s.echo,
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	sessionErr := make(chan error, 1)
	if sess, ok := adapter.SessionOf(s.sink); ok {
		g.Go(func() error {
			if err := sess.Run(gctx); err != nil {
				err = &StartupError{Stage: StageSession, Err: err}
				sessionErr <- err
				return err
			}
			return nil
		})
	}

	if len(s.config.Mappings) == 0 {
		// Hold the group open until shutdown; there are no workers.
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	s.logger.Info("relay started", map[string]any{
		"pipes": len(s.config.Mappings),
		"sink":  adapter.NameOf(s.sink),
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return false, err
	case <-gctx.Done():
	}

	s.logger.Info("shutting down", map[string]any{"grace": s.grace.String()})
	cancel()
	return s.drain(done, sessionErr)
}

// drain wakes blocked readers until every worker returns or the grace
// period runs out, in which case it reports true. A worker can slip back
// into a blocking open between two wakes, so waking repeats until the group
// is done.
func (s *Supervisor) drain(done <-chan error, sessionErr <-chan error) (bool, error) {
	ticker := time.NewTicker(s.wakeInterval)
	defer ticker.Stop()
	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	s.wakeAll()
	for {
		select {
		case err := <-done:
			s.logger.Info("relay stopped", nil)
			return false, err
		case <-ticker.C:
			s.wakeAll()
		case <-grace.C:
			s.logger.Warn("workers still busy after grace period; exiting", nil)
			select {
			case err := <-sessionErr:
				return true, err
			default:
				return true, nil
			}
		}
	}
}

func (s *Supervisor) wakeAll() {
	for _, m := range s.config.Mappings {
		if _, err := ipc.Wake(m.Path); err != nil {
			s.logger.Debug("wake failed", map[string]any{
				"label": m.Label,
				"error": err.Error(),
			})
		}
	}
}
