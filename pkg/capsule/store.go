package capsule

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/vigil/pkg/faults"
)

// Store owns all five capsules. A single goroutine (the heartbeat loop)
// mutates it; status queries take the read lock and copy.
type Store struct {
	mu sync.RWMutex

	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	patterns     []entry
	patternBytes int

	events     []entry
	eventBytes int

	thresholds     map[string]Limits
	thresholdBytes int

	metric     interface{}
	metricAt   time.Time
	metricSize int

	alerts     []entry
	alertBytes int
}

// NewStore creates an empty store with the given bounds.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:        cfg,
		logger:     logger.Named("capsule"),
		now:        time.Now,
		thresholds: make(map[string]Limits),
	}
}

// Store validates and stores a payload into the capsule of the given kind.
// For Pattern and Alert the payload is appended and the capsule pruned to
// its size bound before returning. For Event the payload is appended and
// entries older than the retention window are removed. Threshold and
// Metric are overwritten in place. A payload that cannot be serialized is
// rejected with a validation fault and the store is left unchanged.
func (s *Store) Store(kind Kind, key string, payload interface{}) error {
	size, err := payloadSize(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	switch kind {
	case Pattern:
		if key == "" {
			key = ts.Format(time.RFC3339Nano)
		}
		s.patterns = append(s.patterns, entry{Key: key, Timestamp: ts, Payload: payload, size: size})
		s.patternBytes += size
		s.pruneBySize(&s.patterns, &s.patternBytes, s.cfg.MaxPatternBytes, Pattern)

	case Event:
		s.events = append(s.events, entry{Key: key, Timestamp: ts, Payload: payload, size: size})
		s.eventBytes += size
		s.pruneByAge(ts)

	case Threshold:
		if key == "" {
			return faults.New(faults.Validation, "capsule.store", "threshold requires a metric name key")
		}
		limits, ok := payload.(Limits)
		if !ok {
			return faults.New(faults.Validation, "capsule.store", "threshold payload must be capsule.Limits, got %T", payload)
		}
		if _, exists := s.thresholds[key]; !exists {
			s.thresholdBytes += size
		}
		s.thresholds[key] = limits

	case Metric:
		s.metric = payload
		s.metricAt = ts
		s.metricSize = size

	case Alert:
		s.alerts = append(s.alerts, entry{Key: key, Timestamp: ts, Payload: payload, size: size})
		s.alertBytes += size
		s.pruneBySize(&s.alerts, &s.alertBytes, s.cfg.MaxAlertBytes, Alert)

	default:
		return faults.New(faults.Validation, "capsule.store", "unknown capsule kind %q", kind)
	}
	return nil
}

// payloadSize serializes the payload to estimate its occupied size.
// Rejection happens before any capsule is touched, so a failed store
// never mutates state.
func payloadSize(payload interface{}) (int, error) {
	if payload == nil {
		return 0, faults.New(faults.Validation, "capsule.store", "nil payload")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, faults.Wrap(faults.Validation, "capsule.store", err)
	}
	return len(raw), nil
}

// pruneBySize evicts oldest entries until the capsule occupies at most
// 80% of its maximum. No-op while at or under the maximum.
func (s *Store) pruneBySize(entries *[]entry, bytes *int, max int, kind Kind) {
	if max <= 0 || *bytes <= max {
		return
	}
	target := int(float64(max) * evictTarget)
	evicted := 0
	for len(*entries) > 0 && *bytes > target {
		*bytes -= (*entries)[0].size
		*entries = (*entries)[1:]
		evicted++
	}
	s.logger.Debug("evicted oldest entries",
		zap.String("kind", string(kind)),
		zap.Int("evicted", evicted),
		zap.Int("bytes", *bytes))
}

// pruneByAge removes event entries older than the retention window.
func (s *Store) pruneByAge(now time.Time) {
	if s.cfg.EventRetention <= 0 {
		return
	}
	cutoff := now.Add(-s.cfg.EventRetention)
	removed := 0
	for len(s.events) > 0 && !s.events[0].Timestamp.After(cutoff) {
		s.eventBytes -= s.events[0].size
		s.events = s.events[1:]
		removed++
	}
	if removed > 0 {
		s.logger.Debug("pruned expired events", zap.Int("removed", removed))
	}
}

// Get returns a single keyed value from the capsule. For Pattern and
// Threshold the key selects an entry; for Metric the key is ignored and
// the latest snapshot is returned. Absent keys return (nil, false).
func (s *Store) Get(kind Kind, key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch kind {
	case Pattern:
		for i := len(s.patterns) - 1; i >= 0; i-- {
			if s.patterns[i].Key == key {
				return s.patterns[i].Payload, true
			}
		}
	case Threshold:
		limits, ok := s.thresholds[key]
		if ok {
			return limits, true
		}
	case Metric:
		if s.metric != nil {
			return s.metric, true
		}
	}
	return nil, false
}

// Thresholds returns a copy of the threshold capsule.
func (s *Store) Thresholds() map[string]Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Limits, len(s.thresholds))
	for k, v := range s.thresholds {
		out[k] = v
	}
	return out
}

// LatestMetric returns the metric slot and its collection timestamp.
func (s *Store) LatestMetric() (interface{}, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metric == nil {
		return nil, time.Time{}, false
	}
	return s.metric, s.metricAt, true
}

// Events returns the payloads currently retained in the event capsule,
// oldest first.
func (s *Store) Events() []interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interface{}, len(s.events))
	for i, e := range s.events {
		out[i] = e.Payload
	}
	return out
}

// Alerts returns the alert records currently retained, oldest first.
func (s *Store) Alerts() []interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interface{}, len(s.alerts))
	for i, e := range s.alerts {
		out[i] = e.Payload
	}
	return out
}

// SizeEstimate returns the approximate occupied bytes of a capsule.
func (s *Store) SizeEstimate(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeLocked(kind)
}

func (s *Store) sizeLocked(kind Kind) int {
	switch kind {
	case Pattern:
		return s.patternBytes
	case Event:
		return s.eventBytes
	case Threshold:
		return s.thresholdBytes
	case Metric:
		return s.metricSize
	case Alert:
		return s.alertBytes
	}
	return 0
}

// Count returns the number of entries in a capsule.
func (s *Store) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch kind {
	case Pattern:
		return len(s.patterns)
	case Event:
		return len(s.events)
	case Threshold:
		return len(s.thresholds)
	case Metric:
		if s.metric != nil {
			return 1
		}
		return 0
	case Alert:
		return len(s.alerts)
	}
	return 0
}

// Clear empties a single capsule. Idempotent.
func (s *Store) Clear(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(kind)
}

// ClearAll empties every capsule. Idempotent.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range Kinds() {
		s.clearLocked(kind)
	}
}

func (s *Store) clearLocked(kind Kind) {
	switch kind {
	case Pattern:
		s.patterns = nil
		s.patternBytes = 0
	case Event:
		s.events = nil
		s.eventBytes = 0
	case Threshold:
		s.thresholds = make(map[string]Limits)
		s.thresholdBytes = 0
	case Metric:
		s.metric = nil
		s.metricAt = time.Time{}
		s.metricSize = 0
	case Alert:
		s.alerts = nil
		s.alertBytes = 0
	}
}

// Status reports per-capsule occupancy for status queries and for the
// renewal engine's pressure check.
func (s *Store) Status() map[Kind]KindStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maxFor := map[Kind]int{
		Pattern: s.cfg.MaxPatternBytes,
		Event:   s.cfg.MaxEventBytes,
		Alert:   s.cfg.MaxAlertBytes,
	}
	out := make(map[Kind]KindStatus, 5)
	for _, kind := range Kinds() {
		st := KindStatus{Bytes: s.sizeLocked(kind), MaxBytes: maxFor[kind]}
		switch kind {
		case Pattern:
			st.Entries = len(s.patterns)
		case Event:
			st.Entries = len(s.events)
		case Threshold:
			st.Entries = len(s.thresholds)
		case Metric:
			if s.metric != nil {
				st.Entries = 1
			}
		case Alert:
			st.Entries = len(s.alerts)
		}
		out[kind] = st
	}
	return out
}
