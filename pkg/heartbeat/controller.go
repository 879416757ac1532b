// Package heartbeat runs the agent's periodic monitoring loop. One
// goroutine executes scan, store, threshold evaluation, renewal check
// and stat update strictly in sequence; it is the only writer of the
// capsule store.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/vigil/pkg/capsule"
	"github.com/yairfalse/vigil/pkg/faults"
	"github.com/yairfalse/vigil/pkg/healing"
	"github.com/yairfalse/vigil/pkg/renewal"
	"github.com/yairfalse/vigil/pkg/scanner"
	"github.com/yairfalse/vigil/pkg/telemetry"
)

// evaluated metrics, in emission order.
var watchedMetrics = []string{"cpu", "memory", "disk"}

// recoveryBeats is how many consecutive successful beats it takes to
// leave degraded operation.
const recoveryBeats = 3

// Config tunes the controller.
type Config struct {
	// Interval is the tick period.
	Interval time.Duration
	// Timeout bounds one tick's collection work; retries wait half of it.
	Timeout time.Duration
	// MaxRetries is how many times a failed scan is retried per tick.
	MaxRetries int
	// SelfHealingEnabled gates the classifier's recovery actions.
	SelfHealingEnabled bool
}

// Stats is the heartbeat state reported by status queries.
type Stats struct {
	Running    bool          `json:"running"`
	State      SystemState   `json:"state"`
	Beats      uint64        `json:"beats"`
	Successes  uint64        `json:"successes"`
	Failures   uint64        `json:"failures"`
	LastBeat   time.Time     `json:"last_beat"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// Controller drives the monitoring loop.
type Controller struct {
	cfg     Config
	store   *capsule.Store
	scanner *scanner.Scanner
	engine  *renewal.Engine
	healer  *healing.Classifier
	sink    telemetry.Sink
	alerts  telemetry.AlertSink
	metrics *Metrics
	logger  *zap.Logger

	mu           sync.RWMutex
	state        SystemState
	lastBeat     time.Time
	avgLatencyMs float64
	beats        uint64
	successes    uint64
	failures     uint64
	consecOK     int
	cancel       context.CancelFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// Deps are the controller's collaborators.
type Deps struct {
	Store   *capsule.Store
	Scanner *scanner.Scanner
	Engine  *renewal.Engine
	Sink    telemetry.Sink
	Alerts  telemetry.AlertSink
	Metrics *Metrics
	Logger  *zap.Logger
}

// New creates a controller in the Initialized state. The controller
// builds its own classifier because it is also the classifier's action
// target.
func New(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = telemetry.NopSink{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	c := &Controller{
		cfg:     cfg,
		store:   deps.Store,
		scanner: deps.Scanner,
		engine:  deps.Engine,
		sink:    sink,
		alerts:  alerts,
		metrics: metrics,
		logger:  logger.Named("heartbeat"),
		state:   StateInitialized,
		now:     time.Now,
	}
	c.sleep = c.interruptibleSleep
	c.healer = healing.NewClassifier(cfg.SelfHealingEnabled, c, logger)
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() SystemState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s SystemState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info("state transition",
			zap.String("from", string(prev)),
			zap.String("to", string(s)))
	}
}

// Run executes the loop until ctx is cancelled. The stop signal is
// observed at tick boundaries only; worst-case exit latency is one
// tick plus its sleep. On exit the controller flushes telemetry,
// clears all capsules and reports Stopped.
func (c *Controller) Run(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.setState(StateRunning)
	c.sink.Emit(telemetry.Entry{
		Timestamp: c.now(),
		Level:     telemetry.LevelInfo,
		Message:   "heartbeat started",
		Data:      map[string]interface{}{"interval": c.cfg.Interval.String()},
	})

	for {
		select {
		case <-rctx.Done():
			c.shutdown()
			return nil
		default:
		}

		start := c.now()
		c.tick(rctx)
		elapsed := c.now().Sub(start)
		c.recordLatency(elapsed)

		// Overruns skip the sleep entirely; lost time is never made up.
		if remaining := c.cfg.Interval - elapsed; remaining > 0 {
			c.sleep(rctx, remaining)
		}
	}
}

func (c *Controller) interruptibleSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// tick runs one beat: scan, store, evaluate, renew-check.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	c.beats++
	c.lastBeat = c.now()
	c.mu.Unlock()
	c.metrics.Beats.Inc()

	depth := scanner.Full
	if c.State() == StateDegraded {
		depth = scanner.Quick
	}

	result, err := c.scanWithRetry(ctx, depth)
	if err != nil {
		c.recordFailure()
		c.metrics.Failures.Inc()
		c.healer.Handle(ctx, err)
	} else {
		c.recordSuccess()
		c.storeResult(result)
		c.evaluateThresholds(result)
	}

	c.engine.TickAdvance()
	if ok, reason := c.engine.ShouldRenew(); ok {
		c.runRenewal(ctx, reason)
	}
}

// scanWithRetry invokes the scanner, retrying a fully failed scan up to
// MaxRetries times with a fixed Timeout/2 delay between attempts.
func (c *Controller) scanWithRetry(ctx context.Context, depth scanner.Depth) (*scanner.Result, error) {
	delay := c.cfg.Timeout / 2
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, faults.Wrap(faults.Heartbeat, "heartbeat.scan", ctx.Err())
			case <-time.After(delay):
			}
			c.logger.Debug("retrying scan", zap.Int("attempt", attempt))
		}

		result := c.scanner.Scan(ctx, depth)
		if !result.Failed() {
			return result, nil
		}
		lastErr = faults.New(faults.Heartbeat, "heartbeat.scan",
			"all core probes failed: %v", result.Errors)
	}
	return nil, lastErr
}

// storeResult writes the scan into the metric slot, folds it into the
// pattern capsule and records a beat event. Store rejections are
// validation faults and go to the classifier.
func (c *Controller) storeResult(result *scanner.Result) {
	if err := c.store.Store(capsule.Metric, "", result); err != nil {
		c.healer.Handle(context.Background(), err)
		return
	}
	key := result.Timestamp.UTC().Format(time.RFC3339Nano)
	if err := c.store.Store(capsule.Pattern, key, result); err != nil {
		c.healer.Handle(context.Background(), err)
	}
	event := map[string]interface{}{
		"beat":    c.Stats().Beats,
		"partial": result.Partial,
	}
	if result.Partial {
		event["errors"] = result.Errors
	}
	if err := c.store.Store(capsule.Event, "", event); err != nil {
		c.healer.Handle(context.Background(), err)
	}
}

// evaluateThresholds compares the scan against the threshold capsule
// and emits at most one alert per metric per tick, at the highest
// breached level.
func (c *Controller) evaluateThresholds(result *scanner.Result) {
	thresholds := c.store.Thresholds()
	observed := map[string]float64{
		"cpu":    result.CPUPercent,
		"memory": result.Memory.UsedPercent,
		"disk":   result.MaxDiskPercent(),
	}
	failed := map[string]bool{
		"cpu":    result.Errors[scanner.ProbeCPU] != "",
		"memory": result.Errors[scanner.ProbeMemory] != "",
		"disk":   result.Errors[scanner.ProbeDisk] != "",
	}

	for _, metric := range watchedMetrics {
		limits, ok := thresholds[metric]
		if !ok || failed[metric] {
			continue
		}
		value := observed[metric]

		var level telemetry.Level
		var boundary float64
		switch {
		case value >= limits.Critical:
			level, boundary = telemetry.LevelCritical, limits.Critical
		case value >= limits.Warning:
			level, boundary = telemetry.LevelWarning, limits.Warning
		default:
			continue
		}

		alert := telemetry.NewAlert(metric, level, boundary, value)
		if err := c.store.Store(capsule.Alert, alert.ID, alert); err != nil {
			c.logger.Warn("alert not retained", zap.Error(err))
		}
		c.alerts.EmitAlert(alert)
		c.metrics.Alerts.WithLabelValues(string(level)).Inc()
		c.logger.Warn("threshold breach",
			zap.String("metric", metric),
			zap.String("level", string(level)),
			zap.Float64("threshold", boundary),
			zap.Float64("observed", value))
	}
}

// runRenewal executes a renewal cycle, bracketed by the Renewing state.
func (c *Controller) runRenewal(ctx context.Context, reason renewal.Reason) {
	prev := c.State()
	c.setState(StateRenewing)
	err := c.engine.Renew(reason)
	c.setState(prev)

	if err != nil {
		c.healer.Handle(ctx, err)
		return
	}
	c.metrics.Renewals.Inc()
	c.sink.Emit(telemetry.Entry{
		Timestamp: c.now(),
		Level:     telemetry.LevelInfo,
		Message:   "renewal cycle complete",
		Data:      map[string]interface{}{"reason": string(reason)},
	})
}

func (c *Controller) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
	c.consecOK++
	if c.state == StateDegraded && c.consecOK >= recoveryBeats {
		c.state = StateRunning
		c.logger.Info("recovered from degraded operation",
			zap.Int("consecutive_successes", c.consecOK))
	}
}

func (c *Controller) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.consecOK = 0
}

// recordLatency folds one tick's duration into the running average
// without retaining history: avg += (latency - avg) / beats.
func (c *Controller) recordLatency(elapsed time.Duration) {
	c.metrics.Latency.Observe(elapsed.Seconds())
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.beats == 0 {
		return
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	c.avgLatencyMs += (ms - c.avgLatencyMs) / float64(c.beats)
}

// Stats returns a copy of the heartbeat counters.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Running:    c.state == StateRunning || c.state == StateDegraded || c.state == StateRenewing,
		State:      c.state,
		Beats:      c.beats,
		Successes:  c.successes,
		Failures:   c.failures,
		LastBeat:   c.lastBeat,
		AvgLatency: time.Duration(c.avgLatencyMs * float64(time.Millisecond)),
	}
}

// shutdown flushes telemetry, clears every capsule and reports Stopped.
// Ordering matters: nothing in flight may be lost before the state flips.
func (c *Controller) shutdown() {
	c.sink.Emit(telemetry.Entry{
		Timestamp: c.now(),
		Level:     telemetry.LevelInfo,
		Message:   "heartbeat stopping",
		Data:      map[string]interface{}{"beats": c.Stats().Beats},
	})
	c.sink.Flush()
	c.alerts.Flush()
	c.store.ClearAll()
	c.setState(StateStopped)
}

// ResetSubsystem implements healing.Actions by clearing the volatile
// scan output; thresholds and history are untouched.
func (c *Controller) ResetSubsystem(context.Context) error {
	c.store.Clear(capsule.Metric)
	return nil
}

// Degrade implements healing.Actions: drop to Quick-only scans.
func (c *Controller) Degrade(reason string) {
	c.mu.Lock()
	if c.state != StateRunning && c.state != StateRenewing {
		c.mu.Unlock()
		return
	}
	c.state = StateDegraded
	c.consecOK = 0
	c.mu.Unlock()

	c.logger.Warn("entering degraded operation", zap.String("reason", reason))
	c.sink.Emit(telemetry.Entry{
		Timestamp: c.now(),
		Level:     telemetry.LevelWarning,
		Message:   "degraded operation",
		Data:      map[string]interface{}{"reason": reason},
	})
}

// Shutdown implements healing.Actions: cancel the loop. The loop
// notices at the next tick boundary and performs the graceful stop.
func (c *Controller) Shutdown(reason string) {
	c.sink.Emit(telemetry.Entry{
		Timestamp: c.now(),
		Level:     telemetry.LevelCritical,
		Message:   "critical failure, shutting down",
		Data:      map[string]interface{}{"reason": reason},
	})
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
