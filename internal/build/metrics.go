package build

import (
	"sync"
	"time"
)

// Metrics accumulates results across the builds of one process, which in
// watch mode is many.
type Metrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	// RenderHits and RenderMisses count render-cache lookups.
	RenderHits      int64
	RenderMisses    int64
	AverageDuration time.Duration
	TotalDuration   time.Duration
	LastBuild       time.Time
	mutex           sync.RWMutex
}

// NewMetrics creates an empty tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Record adds one build result.
func (m *Metrics) Record(result *Result) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalBuilds++
	m.TotalDuration += result.Duration
	m.RenderHits += int64(result.CacheHits)
	m.RenderMisses += int64(result.CacheMisses)
	m.LastBuild = result.Started

	if result.Error != nil {
		m.FailedBuilds++
	} else {
		m.SuccessfulBuilds++
	}

	m.AverageDuration = m.TotalDuration / time.Duration(m.TotalBuilds)
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return Metrics{
		TotalBuilds:      m.TotalBuilds,
		SuccessfulBuilds: m.SuccessfulBuilds,
		FailedBuilds:     m.FailedBuilds,
		RenderHits:       m.RenderHits,
		RenderMisses:     m.RenderMisses,
		AverageDuration:  m.AverageDuration,
		TotalDuration:    m.TotalDuration,
		LastBuild:        m.LastBuild,
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalBuilds = 0
	m.SuccessfulBuilds = 0
	m.FailedBuilds = 0
	m.RenderHits = 0
	m.RenderMisses = 0
	m.AverageDuration = 0
	m.TotalDuration = 0
	m.LastBuild = time.Time{}
}

// RenderHitRate returns the render-cache hit rate as a percentage.
func (m *Metrics) RenderHitRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	lookups := m.RenderHits + m.RenderMisses
	if lookups == 0 {
		return 0.0
	}

	return float64(m.RenderHits) / float64(lookups) * 100.0
}

// SuccessRate returns the build success rate as a percentage.
func (m *Metrics) SuccessRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.TotalBuilds == 0 {
		return 0.0
	}

	return float64(m.SuccessfulBuilds) / float64(m.TotalBuilds) * 100.0
}
