// Package telemetry defines the sink collaborator interfaces the agent
// emits into. The core never formats output or touches a terminal; it
// hands structured entries and alert records to a Sink and moves on.
// Every implementation here honors the "accept and never block the
// loop" contract.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Level grades a telemetry entry or alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Entry is one structured telemetry record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Alert is one threshold-breach record.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Level     Level     `json:"level"`
	Threshold float64   `json:"threshold"`
	Observed  float64   `json:"observed"`
}

// NewAlert builds an alert record with a fresh ID.
func NewAlert(metric string, level Level, threshold, observed float64) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Metric:    metric,
		Level:     level,
		Threshold: threshold,
		Observed:  observed,
	}
}

// Sink accepts telemetry entries. Emit must never block; Flush drains
// anything buffered and is called on shutdown.
type Sink interface {
	Emit(Entry)
	Flush()
}

// AlertSink accepts alert records under the same non-blocking contract.
type AlertSink interface {
	EmitAlert(Alert)
	Flush()
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Entry)       {}
func (NopSink) EmitAlert(Alert)  {}
func (NopSink) Flush()           {}
