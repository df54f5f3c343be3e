package cubestream

import (
	"context"
	"sync/atomic"
	"time"
)

// FetchStats is a periodic snapshot of tile fetch throughput.
type FetchStats struct {
	// LastUpdate is the timestamp of this snapshot.
	LastUpdate time.Time
	// Tiles is the number of tiles fetched since the last report.
	Tiles int64
	// Bytes is the volume fetched since the last report.
	Bytes int64
	// TilesPerSecond is the average fetch rate since the last report.
	TilesPerSecond float64
	// BytesPerSecond is the average volume rate since the last report.
	BytesPerSecond float64
}

// FetchMonitor observes tiles flowing out of a fetcher and periodically
// reports throughput statistics. It is pass-through: wiring it with
// WithMonitor changes nothing about the data, only adds visibility into
// fetch performance. Time is observed through an injectable Clock so the
// monitor is testable with a fake clock.
type FetchMonitor struct {
	onStats  func(FetchStats)
	clock    Clock
	lastTime atomic.Value
	interval time.Duration
	tiles    atomic.Int64
	bytes    atomic.Int64
}

// NewFetchMonitor creates a monitor reporting at the given interval.
// The callback is invoked from the monitor's Run goroutine.
func NewFetchMonitor(interval time.Duration, onStats func(FetchStats)) *FetchMonitor {
	return &FetchMonitor{
		interval: interval,
		onStats:  onStats,
		clock:    RealClock,
	}
}

// WithClock sets the clock used for interval timing and timestamps.
func (m *FetchMonitor) WithClock(c Clock) *FetchMonitor {
	m.clock = c
	return m
}

// observe records one successfully fetched tile. Called by VirtualCube.Fetch.
func (m *FetchMonitor) observe(res *TileResult) {
	m.tiles.Add(1)
	m.bytes.Add(int64(res.Tile.NumValues()) * 8)
}

// Run reports statistics at the configured interval until ctx is canceled,
// emitting one final report on the way out.
func (m *FetchMonitor) Run(ctx context.Context) {
	m.lastTime.Store(m.clock.Now())

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.report()
			return
		case <-ticker.C():
			m.report()
		}
	}
}

// report emits a snapshot and resets the window counters.
func (m *FetchMonitor) report() {
	tiles := m.tiles.Swap(0)
	bytes := m.bytes.Swap(0)
	now := m.clock.Now()

	last, ok := m.lastTime.Load().(time.Time)
	if !ok {
		last = now
	}
	m.lastTime.Store(now)

	duration := now.Sub(last).Seconds()
	stats := FetchStats{
		LastUpdate: now,
		Tiles:      tiles,
		Bytes:      bytes,
	}
	if duration > 0 {
		stats.TilesPerSecond = float64(tiles) / duration
		stats.BytesPerSecond = float64(bytes) / duration
	}

	if m.onStats != nil {
		m.onStats(stats)
	}
}
