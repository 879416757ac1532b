// Package agent wires the capsule store, scanner, renewal engine and
// heartbeat controller into one instance and exposes the control
// surface: start, stop, status, force-renew and manual scan. Multiple
// independent agents can coexist in one process; there is no package
// state.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/vigil/pkg/capsule"
	"github.com/yairfalse/vigil/pkg/config"
	"github.com/yairfalse/vigil/pkg/heartbeat"
	"github.com/yairfalse/vigil/pkg/renewal"
	"github.com/yairfalse/vigil/pkg/scanner"
	"github.com/yairfalse/vigil/pkg/telemetry"
)

// Status is the read-only snapshot the status query returns. It is
// assembled from copies; callers never see live structures.
type Status struct {
	State     heartbeat.SystemState               `json:"state"`
	Capsules  map[capsule.Kind]capsule.KindStatus `json:"capsules"`
	Heartbeat heartbeat.Stats                     `json:"heartbeat"`
	Renewal   renewal.State                       `json:"renewal"`
	LastScan  time.Time                           `json:"last_scan,omitempty"`
}

// Agent owns one monitoring instance.
type Agent struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *capsule.Store
	scanner    *scanner.Scanner
	engine     *renewal.Engine
	controller *heartbeat.Controller
	sink       telemetry.Sink
	alerts     telemetry.AlertSink

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
}

type options struct {
	logger           *zap.Logger
	sink             telemetry.Sink
	alerts           telemetry.AlertSink
	sources          *scanner.Sources
	registerer       prometheus.Registerer
	preservePatterns bool
}

// Option customizes an Agent.
type Option func(*options)

// WithLogger sets the agent logger; the default is a production zap
// logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetrySink replaces the default buffered zap sink.
func WithTelemetrySink(sink telemetry.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithAlertSink replaces the default throttled zap alert sink.
func WithAlertSink(sink telemetry.AlertSink) Option {
	return func(o *options) { o.alerts = sink }
}

// WithSources overrides the host metric sources, mainly for tests.
func WithSources(sources scanner.Sources) Option {
	return func(o *options) { o.sources = &sources }
}

// WithRegisterer registers heartbeat metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPreservePatterns carries pattern entries across full renewals.
func WithPreservePatterns() Option {
	return func(o *options) { o.preservePatterns = true }
}

// New validates cfg and builds a ready (Initialized) agent. Only a
// configuration fault can fail here.
func New(cfg config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	logger = logger.Named("vigil")

	sink := o.sink
	if sink == nil {
		sink = telemetry.NewBufferedSink(telemetry.NewZapSink(logger), 256)
	}
	alerts := o.alerts
	if alerts == nil {
		alerts = telemetry.NewThrottledAlertSink(telemetry.NewZapSink(logger), 60, 10)
	}

	store := capsule.NewStore(capsule.Config{
		MaxPatternBytes: cfg.MaxPatternBytes(),
		MaxEventBytes:   cfg.MaxEventBytes(),
		MaxAlertBytes:   cfg.MaxAlertBytes(),
		EventRetention:  cfg.EventRetention(),
	}, logger)
	seedThresholds(store, cfg)

	sources := scanner.SystemSources()
	if o.sources != nil {
		sources = *o.sources
	}
	sc := scanner.New(sources, scanner.Config{
		ProbeTimeout: cfg.Timeout() / 2,
	}, logger)

	engine := renewal.NewEngine(renewal.Config{
		ScheduledInterval: cfg.ScheduledRenewalInterval(),
		PressurePct:       cfg.RenewalMemoryPressurePct,
		StaleCycles:       cfg.RenewalStaleCycles,
		PreservePatterns:  o.preservePatterns,
	}, store, logger)

	controller := heartbeat.New(heartbeat.Config{
		Interval:           cfg.Interval(),
		Timeout:            cfg.Timeout(),
		MaxRetries:         cfg.MaxRetries,
		SelfHealingEnabled: cfg.SelfHealingEnabled,
	}, heartbeat.Deps{
		Store:   store,
		Scanner: sc,
		Engine:  engine,
		Sink:    sink,
		Alerts:  alerts,
		Metrics: heartbeat.NewMetrics(o.registerer),
		Logger:  logger,
	})

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		scanner:    sc,
		engine:     engine,
		controller: controller,
		sink:       sink,
		alerts:     alerts,
	}, nil
}

// seedThresholds writes the configured warning/critical boundaries
// into the threshold capsule.
func seedThresholds(store *capsule.Store, cfg config.Config) {
	for metric, limits := range map[string]capsule.Limits{
		"cpu":    {Warning: cfg.CPUWarningPct, Critical: cfg.CPUCriticalPct},
		"memory": {Warning: cfg.MemoryWarningPct, Critical: cfg.MemoryCriticalPct},
		"disk":   {Warning: cfg.DiskWarningPct, Critical: cfg.DiskCriticalPct},
	} {
		// Limits are validated config values; the store cannot reject them.
		_ = store.Store(capsule.Threshold, metric, limits)
	}
}

// Start launches the heartbeat loop. It returns immediately; use Wait
// or Stop to manage the lifetime. Starting twice is an error.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("agent already started")
	}

	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)
	group.Go(func() error { return a.controller.Run(gctx) })

	a.cancel = cancel
	a.group = group
	a.started = true
	a.logger.Info("agent started",
		zap.Duration("interval", a.cfg.Interval()),
		zap.Bool("self_healing", a.cfg.SelfHealingEnabled))
	return nil
}

// Wait blocks until the loop exits.
func (a *Agent) Wait() error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop signals the loop, waits for the graceful shutdown (telemetry
// flushed, capsules cleared) and is idempotent.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel := a.cancel
	group := a.group
	a.mu.Unlock()

	cancel()
	err := group.Wait()
	a.logger.Info("agent stopped")
	return err
}

// Status returns a point-in-time snapshot. It always succeeds; a
// degraded or stopped agent reports that state instead of failing.
func (a *Agent) Status() Status {
	st := Status{
		State:     a.controller.State(),
		Capsules:  a.store.Status(),
		Heartbeat: a.controller.Stats(),
		Renewal:   a.engine.Status(),
	}
	if _, ts, ok := a.store.LatestMetric(); ok {
		st.LastScan = ts
	}
	return st
}

// ForceRenew runs a renewal cycle outside the normal triggers. The
// partial variant clears only events, metrics and alerts and halves
// the staleness counter.
func (a *Agent) ForceRenew(partial bool) error {
	if partial {
		return a.engine.PartialRenew()
	}
	return a.engine.Renew(renewal.ReasonForced)
}

// ManualScan runs a one-shot scan without touching the capsule store.
func (a *Agent) ManualScan(ctx context.Context, depth scanner.Depth) *scanner.Result {
	return a.scanner.Scan(ctx, depth)
}
