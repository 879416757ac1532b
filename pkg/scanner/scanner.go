package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config tunes a Scanner.
type Config struct {
	// ProbeTimeout bounds each sub-probe call so a hung collector
	// cannot stall the heartbeat.
	ProbeTimeout time.Duration
	// TopProcesses is the N of the Full-depth process list.
	TopProcesses int
}

// DefaultConfig returns scanner defaults.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout: 2 * time.Second,
		TopProcesses: 10,
	}
}

// Scanner runs isolated metric probes against a fixed set of sources.
type Scanner struct {
	sources Sources
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a scanner over the given sources.
func New(sources Sources, cfg Config, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.TopProcesses <= 0 {
		cfg.TopProcesses = DefaultConfig().TopProcesses
	}
	return &Scanner{
		sources: sources,
		cfg:     cfg,
		logger:  logger.Named("scanner"),
		now:     time.Now,
	}
}

// probeFn collects one metric and returns a function that writes it
// into the result. The write is deferred to the caller so an abandoned
// (timed out) probe can never mutate a result the loop already owns.
type probeFn func(ctx context.Context) (func(*Result), error)

// Scan collects host metrics at the given depth. It always returns a
// Result; failed probes default their fields and are tagged on
// Result.Errors rather than surfacing to the caller.
func (s *Scanner) Scan(ctx context.Context, depth Depth) *Result {
	result := &Result{
		Timestamp: s.now(),
		Depth:     depth,
		Errors:    make(map[string]string),
	}

	s.probe(ctx, result, ProbeCPU, func(ctx context.Context) (func(*Result), error) {
		pct, err := s.sources.CPU.Percent(ctx)
		if err != nil {
			return nil, err
		}
		return func(r *Result) { r.CPUPercent = pct }, nil
	})

	s.probe(ctx, result, ProbeMemory, func(ctx context.Context) (func(*Result), error) {
		stats, err := s.sources.Memory.Memory(ctx)
		if err != nil {
			return nil, err
		}
		return func(r *Result) { r.Memory = stats }, nil
	})

	s.probe(ctx, result, ProbeDisk, func(ctx context.Context) (func(*Result), error) {
		disks, err := s.sources.Disk.Usage(ctx)
		if err != nil {
			return nil, err
		}
		return func(r *Result) { r.Disks = disks }, nil
	})

	if depth == Full {
		s.probe(ctx, result, ProbeProcess, func(ctx context.Context) (func(*Result), error) {
			procs, err := s.sources.Process.Top(ctx, s.cfg.TopProcesses)
			if err != nil {
				return nil, err
			}
			return func(r *Result) { r.Processes = procs }, nil
		})

		s.probe(ctx, result, ProbeNetwork, func(ctx context.Context) (func(*Result), error) {
			counters, err := s.sources.Net.Counters(ctx)
			if err != nil {
				return nil, err
			}
			return func(r *Result) { r.Network = &counters }, nil
		})
	}

	if len(result.Errors) == 0 {
		result.Errors = nil
	} else {
		result.Partial = true
	}
	return result
}

type probeOutcome struct {
	apply func(*Result)
	err   error
}

// probe runs one sub-collector under its own timeout. The collector
// runs in a goroutine so a probe that ignores its context still cannot
// block the scan past the timeout.
func (s *Scanner) probe(ctx context.Context, result *Result, name string, fn probeFn) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("probe panic: %v", r)}
			}
		}()
		apply, err := fn(pctx)
		done <- probeOutcome{apply: apply, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			result.Errors[name] = out.err.Error()
			s.logger.Warn("probe failed", zap.String("probe", name), zap.Error(out.err))
			return
		}
		out.apply(result)
	case <-pctx.Done():
		result.Errors[name] = pctx.Err().Error()
		s.logger.Warn("probe timed out", zap.String("probe", name), zap.Duration("timeout", s.cfg.ProbeTimeout))
	}
}
