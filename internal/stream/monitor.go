package stream

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

// Report is the change in ring counters between two monitor checks.
type Report struct {
	Dropped    uint64
	Underflows uint64
	Occupied   int
	Capacity   int
}

// Monitor periodically logs ring overflow and underflow activity. The
// interval can be changed while running.
type Monitor struct {
	stats    func() ring.Stats
	interval atomic.Int64

	lastDropped    uint64
	lastUnderflows uint64
}

// NewMonitor returns a monitor polling stats every interval.
func NewMonitor(stats func() ring.Stats, interval time.Duration) *Monitor {
	m := &Monitor{stats: stats}
	m.SetInterval(interval)
	s := stats()
	m.lastDropped, m.lastUnderflows = s.Dropped, s.Underflows
	return m
}

// SetInterval changes the polling interval, effective after the current wait.
// Non-positive values fall back to one second.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	m.interval.Store(int64(d))
}

// Interval returns the current polling interval.
func (m *Monitor) Interval() time.Duration { return time.Duration(m.interval.Load()) }

// Run calls [Monitor.Check] every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	timer := time.NewTimer(m.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.Check()
			timer.Reset(m.Interval())
		}
	}
}

// Check computes counter deltas since the previous check and logs them.
// Dropped frames are a warning: the consumer fell behind and audio was lost.
// Underflows are normal idle drain passes and are logged at debug level.
// Check is not safe for concurrent use.
func (m *Monitor) Check() Report {
	s := m.stats()
	r := Report{
		Dropped:    s.Dropped - m.lastDropped,
		Underflows: s.Underflows - m.lastUnderflows,
		Occupied:   s.Occupied,
		Capacity:   s.Capacity,
	}
	m.lastDropped, m.lastUnderflows = s.Dropped, s.Underflows

	if r.Dropped > 0 {
		slog.Warn("ring overflow: frames dropped",
			"dropped", r.Dropped,
			"total_dropped", s.Dropped,
			"occupied", s.Occupied,
			"capacity", s.Capacity,
		)
	}
	if r.Underflows > 0 {
		slog.Debug("ring underflow: consumer found no data",
			"underflows", r.Underflows,
			"total_underflows", s.Underflows,
		)
	}
	return r
}
