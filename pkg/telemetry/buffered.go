package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// BufferedSink decouples the heartbeat loop from a slow downstream
// sink. Emit enqueues without blocking and counts a drop when the
// buffer is full; a single worker goroutine forwards entries in order.
type BufferedSink struct {
	inner   Sink
	entries chan Entry
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

// NewBufferedSink wraps inner with a buffer of the given size.
func NewBufferedSink(inner Sink, size int) *BufferedSink {
	if size <= 0 {
		size = 256
	}
	s := &BufferedSink{
		inner:   inner,
		entries: make(chan Entry, size),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *BufferedSink) run() {
	defer close(s.drained)
	for {
		select {
		case e := <-s.entries:
			s.inner.Emit(e)
		case <-s.done:
			// Drain what is already buffered so shutdown loses nothing.
			for {
				select {
				case e := <-s.entries:
					s.inner.Emit(e)
				default:
					s.inner.Flush()
					return
				}
			}
		}
	}
}

// Emit enqueues the entry, dropping it if the buffer is full.
func (s *BufferedSink) Emit(e Entry) {
	select {
	case s.entries <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded on a full buffer.
func (s *BufferedSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush stops the worker, drains the buffer into the inner sink and
// waits for completion. The sink is closed afterwards; further Emit
// calls are counted as drops once the buffer fills.
func (s *BufferedSink) Flush() {
	s.closeOnce.Do(func() { close(s.done) })
	select {
	case <-s.drained:
	case <-time.After(5 * time.Second):
	}
}

// ThrottledAlertSink rate-limits alert forwarding so a flapping metric
// cannot flood the downstream sink. Rejected alerts are counted, not
// queued.
type ThrottledAlertSink struct {
	inner   AlertSink
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewThrottledAlertSink allows at most perMinute alerts per minute with
// the given burst.
func NewThrottledAlertSink(inner AlertSink, perMinute int, burst int) *ThrottledAlertSink {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &ThrottledAlertSink{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

// EmitAlert forwards the alert if the limiter allows it.
func (s *ThrottledAlertSink) EmitAlert(a Alert) {
	if !s.limiter.Allow() {
		s.dropped.Add(1)
		return
	}
	s.inner.EmitAlert(a)
}

// Dropped reports how many alerts the limiter rejected.
func (s *ThrottledAlertSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush flushes the wrapped sink.
func (s *ThrottledAlertSink) Flush() {
	s.inner.Flush()
}
