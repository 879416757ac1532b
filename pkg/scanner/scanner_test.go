package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCPU struct {
	pct float64
	err error
}

func (f fakeCPU) Percent(_ context.Context) (float64, error) { return f.pct, f.err }

type fakeMemory struct {
	stats MemoryStats
	err   error
}

func (f fakeMemory) Memory(_ context.Context) (MemoryStats, error) { return f.stats, f.err }

type fakeDisk struct {
	disks []DiskStats
	err   error
}

func (f fakeDisk) Usage(_ context.Context) ([]DiskStats, error) { return f.disks, f.err }

type fakeProcess struct {
	procs []ProcessInfo
	err   error
}

func (f fakeProcess) Top(_ context.Context, n int) ([]ProcessInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.procs) {
		return f.procs[:n], nil
	}
	return f.procs, nil
}

type fakeNet struct {
	stats NetworkStats
	err   error
}

func (f fakeNet) Counters(_ context.Context) (NetworkStats, error) { return f.stats, f.err }

// hangingCPU never returns; the probe timeout has to cut it off.
type hangingCPU struct{}

func (hangingCPU) Percent(_ context.Context) (float64, error) {
	select {}
}

func healthySources() Sources {
	return Sources{
		CPU:    fakeCPU{pct: 42.5},
		Memory: fakeMemory{stats: MemoryStats{TotalBytes: 16 << 30, UsedBytes: 8 << 30, AvailableBytes: 8 << 30, UsedPercent: 50}},
		Disk:   fakeDisk{disks: []DiskStats{{Path: "/", UsedPercent: 61.2}, {Path: "/data", UsedPercent: 88.4}}},
		Process: fakeProcess{procs: []ProcessInfo{
			{PID: 100, Name: "postgres", RSSBytes: 4 << 30},
			{PID: 200, Name: "vigil", RSSBytes: 64 << 20},
		}},
		Net: fakeNet{stats: NetworkStats{BytesSent: 1024, BytesRecv: 2048}},
	}
}

func newTestScanner(t *testing.T, sources Sources) *Scanner {
	t.Helper()
	return New(sources, Config{ProbeTimeout: 100 * time.Millisecond, TopProcesses: 5}, zaptest.NewLogger(t))
}

func TestScanQuickDepth(t *testing.T) {
	s := newTestScanner(t, healthySources())

	result := s.Scan(context.Background(), Quick)
	require.NotNil(t, result)

	assert.Equal(t, 42.5, result.CPUPercent)
	assert.Equal(t, 50.0, result.Memory.UsedPercent)
	assert.Len(t, result.Disks, 2)
	assert.Empty(t, result.Processes, "quick depth skips processes")
	assert.Nil(t, result.Network, "quick depth skips network")
	assert.False(t, result.Partial)
	assert.Empty(t, result.Errors)
}

func TestScanFullDepth(t *testing.T) {
	s := newTestScanner(t, healthySources())

	result := s.Scan(context.Background(), Full)
	assert.Len(t, result.Processes, 2)
	require.NotNil(t, result.Network)
	assert.Equal(t, uint64(1024), result.Network.BytesSent)
}

func TestFailingProbeIsIsolated(t *testing.T) {
	sources := healthySources()
	sources.CPU = fakeCPU{err: errors.New("msr read denied")}
	s := newTestScanner(t, sources)

	result := s.Scan(context.Background(), Quick)

	assert.Zero(t, result.CPUPercent, "failed probe defaults to zero")
	assert.Equal(t, 50.0, result.Memory.UsedPercent, "other probes continue")
	assert.Len(t, result.Disks, 2)
	assert.True(t, result.Partial)
	assert.Contains(t, result.Errors, ProbeCPU)
	assert.NotContains(t, result.Errors, ProbeMemory)
}

func TestHungProbeTimesOut(t *testing.T) {
	sources := healthySources()
	sources.CPU = hangingCPU{}
	s := newTestScanner(t, sources)

	start := time.Now()
	result := s.Scan(context.Background(), Quick)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "hung probe must not stall the scan")
	assert.Contains(t, result.Errors, ProbeCPU)
	assert.Equal(t, 50.0, result.Memory.UsedPercent)
}

func TestAllCoreProbesFailing(t *testing.T) {
	boom := errors.New("collection broken")
	s := newTestScanner(t, Sources{
		CPU:     fakeCPU{err: boom},
		Memory:  fakeMemory{err: boom},
		Disk:    fakeDisk{err: boom},
		Process: fakeProcess{},
		Net:     fakeNet{},
	})

	result := s.Scan(context.Background(), Quick)
	assert.True(t, result.Failed())

	// One surviving core probe makes the result usable again.
	s2 := newTestScanner(t, Sources{
		CPU:     fakeCPU{err: boom},
		Memory:  fakeMemory{stats: MemoryStats{UsedPercent: 10}},
		Disk:    fakeDisk{err: boom},
		Process: fakeProcess{},
		Net:     fakeNet{},
	})
	assert.False(t, s2.Scan(context.Background(), Quick).Failed())
}

func TestMaxDiskPercent(t *testing.T) {
	r := &Result{Disks: []DiskStats{{UsedPercent: 30}, {UsedPercent: 91.5}, {UsedPercent: 12}}}
	assert.Equal(t, 91.5, r.MaxDiskPercent())
	assert.Zero(t, (&Result{}).MaxDiskPercent())
}

func TestTopNProcessLimit(t *testing.T) {
	sources := healthySources()
	s := New(sources, Config{ProbeTimeout: 100 * time.Millisecond, TopProcesses: 1}, zaptest.NewLogger(t))

	result := s.Scan(context.Background(), Full)
	assert.Len(t, result.Processes, 1)
}
