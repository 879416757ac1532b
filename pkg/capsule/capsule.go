// Package capsule implements the bounded, volatile in-memory containers
// the agent keeps its observations in. Each kind owns its own retention
// policy; nothing here ever touches disk.
package capsule

import (
	"time"
)

// Kind identifies a capsule container.
type Kind string

const (
	// Pattern holds timestamp-keyed observation payloads, bounded by
	// serialized size with oldest-first eviction.
	Pattern Kind = "pattern"
	// Event holds an ordered sequence of payloads, pruned by age.
	Event Kind = "event"
	// Threshold holds configured warning/critical values per metric,
	// overwritten in place and never pruned.
	Threshold Kind = "threshold"
	// Metric is a single slot holding the latest scan snapshot.
	Metric Kind = "metric"
	// Alert holds an ordered sequence of alert records, bounded by size.
	Alert Kind = "alert"
)

// Kinds lists every capsule kind, in store order.
func Kinds() []Kind {
	return []Kind{Pattern, Event, Threshold, Metric, Alert}
}

// Limits holds a metric's configured warning and critical boundaries.
type Limits struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// entry is one stored payload with its cached serialized size.
type entry struct {
	Key       string
	Timestamp time.Time
	Payload   interface{}
	size      int
}

// PatternEntry is an exported pattern entry, used by snapshots.
type PatternEntry struct {
	Key       string
	Timestamp time.Time
	Payload   interface{}
}

// KindStatus reports occupancy of a single capsule.
type KindStatus struct {
	Entries  int `json:"entries"`
	Bytes    int `json:"bytes"`
	MaxBytes int `json:"max_bytes,omitempty"`
}

// Config bounds each capsule. Zero max bytes means the bound is not
// size-based for that kind.
type Config struct {
	MaxPatternBytes int
	MaxEventBytes   int
	MaxAlertBytes   int
	EventRetention  time.Duration
}

// evictTarget is the fraction of the maximum a size-bounded capsule is
// pruned down to once it overflows. Pruning to below the max avoids
// evicting on every subsequent store.
const evictTarget = 0.8
