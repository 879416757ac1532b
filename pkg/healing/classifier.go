// Package healing categorizes caught failures and drives the recovery
// action. Classification is keyed off the fault kind attached where the
// error was raised; message text is never inspected.
package healing

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yairfalse/vigil/pkg/faults"
)

// Category is the recovery class of a failure.
type Category string

const (
	// Transient failures are worth retrying; the heartbeat's retry
	// policy handles them.
	Transient Category = "transient"
	// Recoverable failures are cured by resetting the failing
	// subsystem's in-memory state.
	Recoverable Category = "recoverable"
	// Degradable failures keep the agent running at reduced scope.
	Degradable Category = "degradable"
	// Critical failures initiate graceful shutdown.
	Critical Category = "critical"
)

// Actions is what the classifier may do to the system. The heartbeat
// controller implements it.
type Actions interface {
	// ResetSubsystem clears the failing subsystem's volatile state.
	ResetSubsystem(ctx context.Context) error
	// Degrade moves the system into degraded operation.
	Degrade(reason string)
	// Shutdown initiates graceful shutdown.
	Shutdown(reason string)
}

// Classify maps a fault kind to a recovery category.
//
// Untagged errors get one benefit of the doubt: the first consecutive
// unknown is Transient, repeats are Degradable. That conservative
// fallback replaces the legacy substring-matching heuristic.
func Classify(err error) Category {
	switch faults.KindOf(err) {
	case faults.Collection, faults.Heartbeat:
		return Transient
	case faults.Validation, faults.Renewal:
		return Recoverable
	case faults.Critical:
		return Critical
	default:
		return Degradable
	}
}

// Classifier dispatches recovery actions for classified failures.
type Classifier struct {
	enabled bool
	actions Actions
	logger  *zap.Logger

	handled     atomic.Uint64
	consecUnk   atomic.Uint64
	lastCategry atomic.Value // Category
}

// NewClassifier creates a classifier. When enabled is false every
// failure is logged and counted but no recovery action runs.
func NewClassifier(enabled bool, actions Actions, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		enabled: enabled,
		actions: actions,
		logger:  logger.Named("healing"),
	}
}

// Handle classifies err and executes the matching recovery action.
// It returns the category so the caller can adjust its own behavior
// (the retry policy acts on Transient itself).
func (c *Classifier) Handle(ctx context.Context, err error) Category {
	if err == nil {
		return Transient
	}
	c.handled.Add(1)

	kind := faults.KindOf(err)
	category := Classify(err)
	if kind == faults.Unknown {
		// First unknown in a row is treated as transient; repeats degrade.
		if c.consecUnk.Add(1) == 1 {
			category = Transient
		}
	} else {
		c.consecUnk.Store(0)
	}
	c.lastCategry.Store(category)

	c.logger.Warn("failure classified",
		zap.String("kind", string(kind)),
		zap.String("category", string(category)),
		zap.Error(err))

	if !c.enabled {
		return category
	}

	switch category {
	case Transient:
		// Nothing to do here; the caller's retry policy owns it.
	case Recoverable:
		if resetErr := c.actions.ResetSubsystem(ctx); resetErr != nil {
			c.logger.Error("subsystem reset failed", zap.Error(resetErr))
			c.actions.Degrade("subsystem reset failed")
		}
	case Degradable:
		c.actions.Degrade(err.Error())
	case Critical:
		c.actions.Shutdown(err.Error())
	}
	return category
}

// Handled reports how many failures the classifier has processed.
func (c *Classifier) Handled() uint64 {
	return c.handled.Load()
}

// LastCategory returns the most recent classification, or "" before
// the first failure.
func (c *Classifier) LastCategory() Category {
	if v := c.lastCategry.Load(); v != nil {
		return v.(Category)
	}
	return ""
}
