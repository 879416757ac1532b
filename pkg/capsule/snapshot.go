package capsule

// Snapshot captures the threshold capsule, and optionally the pattern
// capsule, so calibration survives a full renewal.
type Snapshot struct {
	Thresholds map[string]Limits
	Patterns   []PatternEntry
}

// Snapshot copies the threshold capsule and, when preservePatterns is
// set, the current pattern entries.
func (s *Store) Snapshot(preservePatterns bool) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{Thresholds: make(map[string]Limits, len(s.thresholds))}
	for k, v := range s.thresholds {
		snap.Thresholds[k] = v
	}
	if preservePatterns {
		snap.Patterns = make([]PatternEntry, len(s.patterns))
		for i, e := range s.patterns {
			snap.Patterns[i] = PatternEntry{Key: e.Key, Timestamp: e.Timestamp, Payload: e.Payload}
		}
	}
	return snap
}

// Restore writes a snapshot back into the store. Restored entries are
// re-measured so size accounting stays exact; an entry that no longer
// serializes is dropped rather than failing the whole restore.
func (s *Store) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range snap.Thresholds {
		size, err := payloadSize(v)
		if err != nil {
			continue
		}
		if _, exists := s.thresholds[k]; !exists {
			s.thresholdBytes += size
		}
		s.thresholds[k] = v
	}
	for _, p := range snap.Patterns {
		size, err := payloadSize(p.Payload)
		if err != nil {
			continue
		}
		s.patterns = append(s.patterns, entry{Key: p.Key, Timestamp: p.Timestamp, Payload: p.Payload, size: size})
		s.patternBytes += size
	}
	s.pruneBySize(&s.patterns, &s.patternBytes, s.cfg.MaxPatternBytes, Pattern)
}
