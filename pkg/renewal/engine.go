// Package renewal implements the scheduled self-reset of the agent's
// volatile state. A renewal wipes the capsule store and reinitializes
// it from a snapshot of the calibration data, bounding memory growth
// and staleness.
package renewal

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/vigil/pkg/capsule"
	"github.com/yairfalse/vigil/pkg/faults"
)

// Reason explains why a renewal fired.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonScheduled Reason = "scheduled"
	ReasonPressure  Reason = "pressure"
	ReasonStale     Reason = "stale"
	ReasonForced    Reason = "forced"
)

// Config tunes the trigger conditions.
type Config struct {
	// ScheduledInterval is the wall-clock period between renewals.
	ScheduledInterval time.Duration
	// PressurePct triggers a renewal when any size-bounded capsule
	// occupies at least this percentage of its maximum.
	PressurePct float64
	// StaleCycles triggers a renewal after this many heartbeat cycles
	// without one.
	StaleCycles int
	// PreservePatterns carries pattern entries across a full renewal.
	PreservePatterns bool
}

// State is the engine's counters, reported by status queries.
type State struct {
	LastRenewal        time.Time `json:"last_renewal"`
	RenewalCount       int       `json:"renewal_count"`
	CyclesSinceRenewal int       `json:"cycles_since_renewal"`
	LastReason         Reason    `json:"last_reason,omitempty"`
}

// Engine evaluates renewal conditions and performs renewal cycles
// against a capsule store.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	store  *capsule.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an engine bound to a store. The scheduled-interval
// clock starts at construction time.
func NewEngine(cfg Config, store *capsule.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("renewal"),
		now:    time.Now,
	}
	e.state.LastRenewal = e.now()
	return e
}

// TickAdvance records one heartbeat cycle.
func (e *Engine) TickAdvance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.CyclesSinceRenewal++
}

// ShouldRenew reports whether any trigger condition holds. Conditions
// are checked cheapest first; any single one suffices.
func (e *Engine) ShouldRenew() (bool, Reason) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.StaleCycles > 0 && e.state.CyclesSinceRenewal >= e.cfg.StaleCycles {
		return true, ReasonStale
	}
	if e.cfg.ScheduledInterval > 0 && e.now().Sub(e.state.LastRenewal) >= e.cfg.ScheduledInterval {
		return true, ReasonScheduled
	}
	if e.cfg.PressurePct > 0 {
		for _, st := range e.store.Status() {
			if st.MaxBytes <= 0 {
				continue
			}
			if float64(st.Bytes)/float64(st.MaxBytes)*100 >= e.cfg.PressurePct {
				return true, ReasonPressure
			}
		}
	}
	return false, ReasonNone
}

// Renew performs a full renewal cycle: snapshot calibration, clear
// every capsule, reset counters, restore. Clear and restore happen in
// one pass so a mid-cycle failure leaves the store empty but
// consistent, never torn.
func (e *Engine) Renew(reason Reason) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = faults.New(faults.Renewal, "renewal.renew", "renewal cycle failed: %v", r)
		}
	}()

	snap := e.store.Snapshot(e.cfg.PreservePatterns)
	e.store.ClearAll()

	e.state.LastRenewal = e.now()
	e.state.RenewalCount++
	e.state.CyclesSinceRenewal = 0
	e.state.LastReason = reason

	e.store.Restore(snap)

	e.logger.Info("renewal cycle complete",
		zap.String("reason", string(reason)),
		zap.Int("renewal_count", e.state.RenewalCount),
		zap.Bool("patterns_preserved", e.cfg.PreservePatterns))
	return nil
}

// PartialRenew clears only the event, metric and alert capsules and
// halves the staleness counter. Used when pressure is moderate but a
// full reset is not warranted; never auto-selected by the controller.
func (e *Engine) PartialRenew() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Clear(capsule.Event)
	e.store.Clear(capsule.Metric)
	e.store.Clear(capsule.Alert)

	e.state.CyclesSinceRenewal /= 2
	e.state.LastReason = ReasonForced

	e.logger.Info("partial renewal complete",
		zap.Int("cycles_since_renewal", e.state.CyclesSinceRenewal))
	return nil
}

// Status returns a copy of the engine state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
