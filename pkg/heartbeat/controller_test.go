package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/vigil/pkg/capsule"
	"github.com/yairfalse/vigil/pkg/renewal"
	"github.com/yairfalse/vigil/pkg/scanner"
	"github.com/yairfalse/vigil/pkg/telemetry"
)

type fakeCPU struct {
	mu    sync.Mutex
	pct   float64
	err   error
	calls int
}

func (f *fakeCPU) Percent(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pct, f.err
}

func (f *fakeCPU) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMemory struct{ pct float64 }

func (f fakeMemory) Memory(context.Context) (scanner.MemoryStats, error) {
	return scanner.MemoryStats{TotalBytes: 16 << 30, UsedBytes: 8 << 30, UsedPercent: f.pct}, nil
}

type fakeDisk struct{ pct float64 }

func (f fakeDisk) Usage(context.Context) ([]scanner.DiskStats, error) {
	return []scanner.DiskStats{{Path: "/", UsedPercent: f.pct}}, nil
}

type fakeProcess struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeProcess) Top(context.Context, int) ([]scanner.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []scanner.ProcessInfo{{PID: 1, Name: "init"}}, nil
}

func (f *fakeProcess) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNet struct{}

func (fakeNet) Counters(context.Context) (scanner.NetworkStats, error) {
	return scanner.NetworkStats{}, nil
}

type alertRecorder struct {
	mu      sync.Mutex
	alerts  []telemetry.Alert
	flushes int
}

func (r *alertRecorder) EmitAlert(a telemetry.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func (r *alertRecorder) all() []telemetry.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

type testRig struct {
	controller *Controller
	store      *capsule.Store
	cpu        *fakeCPU
	procs      *fakeProcess
	alerts     *alertRecorder
}

func newRig(t *testing.T, cfg Config, cpuPct float64) *testRig {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cpu := &fakeCPU{pct: cpuPct}
	procs := &fakeProcess{}
	sources := scanner.Sources{
		CPU:     cpu,
		Memory:  fakeMemory{pct: 50},
		Disk:    fakeDisk{pct: 40},
		Process: procs,
		Net:     fakeNet{},
	}
	sc := scanner.New(sources, scanner.Config{ProbeTimeout: 100 * time.Millisecond, TopProcesses: 5}, logger)

	store := capsule.NewStore(capsule.Config{
		MaxPatternBytes: 1 << 20,
		MaxAlertBytes:   1 << 20,
		EventRetention:  time.Hour,
	}, logger)
	require.NoError(t, store.Store(capsule.Threshold, "cpu", capsule.Limits{Warning: 70, Critical: 90}))
	require.NoError(t, store.Store(capsule.Threshold, "memory", capsule.Limits{Warning: 80, Critical: 95}))
	require.NoError(t, store.Store(capsule.Threshold, "disk", capsule.Limits{Warning: 85, Critical: 95}))

	engine := renewal.NewEngine(renewal.Config{StaleCycles: 1 << 30}, store, logger)
	alerts := &alertRecorder{}

	c := New(cfg, Deps{
		Store:   store,
		Scanner: sc,
		Engine:  engine,
		Alerts:  alerts,
		Metrics: NewMetrics(prometheus.NewRegistry()),
		Logger:  logger,
	})
	return &testRig{controller: c, store: store, cpu: cpu, procs: procs, alerts: alerts}
}

func defaultCfg() Config {
	return Config{
		Interval:           10 * time.Millisecond,
		Timeout:            20 * time.Millisecond,
		MaxRetries:         0,
		SelfHealingEnabled: true,
	}
}

func TestLatencyRunningAverage(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller

	want := []time.Duration{10 * time.Millisecond, 15 * time.Millisecond, 20 * time.Millisecond}
	for i, lat := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond} {
		c.mu.Lock()
		c.beats++
		c.mu.Unlock()
		c.recordLatency(lat)
		assert.Equal(t, want[i], c.Stats().AvgLatency)
	}
}

func TestThresholdDeterminism(t *testing.T) {
	rig := newRig(t, defaultCfg(), 96)
	c := rig.controller

	result := c.scanner.Scan(context.Background(), scanner.Quick)
	c.evaluateThresholds(result)

	alerts := rig.alerts.all()
	require.Len(t, alerts, 1, "exactly one alert for the single breached metric")
	assert.Equal(t, "cpu", alerts[0].Metric)
	assert.Equal(t, telemetry.LevelCritical, alerts[0].Level)
	assert.Equal(t, 90.0, alerts[0].Threshold)
	assert.Equal(t, 96.0, alerts[0].Observed)
	assert.NotEmpty(t, alerts[0].ID)

	assert.Equal(t, 1, rig.store.Count(capsule.Alert), "alert is retained in the capsule too")
}

func TestWarningLevelAlert(t *testing.T) {
	rig := newRig(t, defaultCfg(), 75)
	c := rig.controller

	c.evaluateThresholds(c.scanner.Scan(context.Background(), scanner.Quick))

	alerts := rig.alerts.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, telemetry.LevelWarning, alerts[0].Level)
	assert.Equal(t, 70.0, alerts[0].Threshold)
}

func TestNoAlertWithinRange(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller

	c.evaluateThresholds(c.scanner.Scan(context.Background(), scanner.Quick))
	assert.Empty(t, rig.alerts.all())
}

func TestFailedProbeSkipsThreshold(t *testing.T) {
	rig := newRig(t, defaultCfg(), 0)
	rig.cpu.err = errors.New("probe down")
	c := rig.controller

	c.evaluateThresholds(c.scanner.Scan(context.Background(), scanner.Quick))
	assert.Empty(t, rig.alerts.all(), "a failed probe must not be judged against thresholds")
}

func TestScanRetryPolicy(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxRetries = 2
	rig := newRig(t, cfg, 10)
	c := rig.controller

	// All core probes fail so each attempt counts as a failed scan.
	boom := errors.New("collection broken")
	rig.cpu.err = boom
	sc := scanner.New(scanner.Sources{
		CPU:     rig.cpu,
		Memory:  failingMemory{},
		Disk:    failingDisk{},
		Process: rig.procs,
		Net:     fakeNet{},
	}, scanner.Config{ProbeTimeout: 50 * time.Millisecond}, zaptest.NewLogger(t))
	c.scanner = sc

	before := rig.cpu.callCount()
	_, err := c.scanWithRetry(context.Background(), scanner.Quick)
	require.Error(t, err)
	assert.Equal(t, 3, rig.cpu.callCount()-before, "initial attempt plus two retries")
}

type failingMemory struct{}

func (failingMemory) Memory(context.Context) (scanner.MemoryStats, error) {
	return scanner.MemoryStats{}, errors.New("collection broken")
}

type failingDisk struct{}

func (failingDisk) Usage(context.Context) ([]scanner.DiskStats, error) {
	return nil, errors.New("collection broken")
}

func TestDegradedUsesQuickScans(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller
	c.setState(StateRunning)
	c.Degrade("test")
	require.Equal(t, StateDegraded, c.State())

	before := rig.procs.callCount()
	c.tick(context.Background())
	assert.Equal(t, before, rig.procs.callCount(), "degraded ticks must not enumerate processes")
}

func TestDegradedRecovery(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller
	c.setState(StateRunning)
	c.Degrade("test")

	for i := 0; i < recoveryBeats; i++ {
		c.tick(context.Background())
	}
	assert.Equal(t, StateRunning, c.State(), "consecutive successes end degraded operation")
}

func TestRunStopsAtTickBoundary(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let a few beats happen, then stop.
	assert.Eventually(t, func() bool { return c.Stats().Beats >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit within a tick")
	}

	assert.Equal(t, StateStopped, c.State())
	for kind, st := range rig.store.Status() {
		assert.Zero(t, st.Entries, "capsule %s must be cleared on shutdown", kind)
	}
	rig.alerts.mu.Lock()
	flushes := rig.alerts.flushes
	rig.alerts.mu.Unlock()
	assert.Equal(t, 1, flushes, "pending alerts are flushed before Stopped")
}

func TestOverrunSkipsSleep(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller

	var slept []time.Duration
	var mu sync.Mutex
	c.sleep = func(_ context.Context, d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	// Zero interval: every tick overruns, so the loop must never sleep.
	c.cfg.Interval = 0

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	assert.Eventually(t, func() bool { return c.Stats().Beats >= 5 }, time.Second, time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return c.State() == StateStopped }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, slept, "overrun ticks proceed immediately with zero sleep")
}

func TestTickCountsRenewalCycles(t *testing.T) {
	rig := newRig(t, defaultCfg(), 10)
	c := rig.controller

	// Stale trigger after 2 cycles.
	c.engine = renewal.NewEngine(renewal.Config{StaleCycles: 2}, rig.store, zaptest.NewLogger(t))

	c.tick(context.Background())
	assert.Equal(t, 0, c.engine.Status().RenewalCount)

	c.tick(context.Background())
	status := c.engine.Status()
	assert.Equal(t, 1, status.RenewalCount, "stale trigger renews on the second cycle")
	assert.Equal(t, 0, status.CyclesSinceRenewal)

	// Thresholds survive the renewal.
	_, ok := rig.store.Get(capsule.Threshold, "cpu")
	assert.True(t, ok)
}
