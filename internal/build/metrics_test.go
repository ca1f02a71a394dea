package build

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	metrics := NewMetrics()

	require.NotNil(t, metrics)
	assert.Equal(t, int64(0), metrics.TotalBuilds)
	assert.Equal(t, time.Duration(0), metrics.AverageDuration)
	assert.Equal(t, 0.0, metrics.SuccessRate())
	assert.Equal(t, 0.0, metrics.RenderHitRate())
}

func TestMetricsRecord(t *testing.T) {
	metrics := NewMetrics()
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	metrics.Record(&Result{Started: started, Duration: 100 * time.Millisecond, CacheHits: 3, CacheMisses: 1})
	metrics.Record(&Result{Started: started.Add(time.Minute), Duration: 300 * time.Millisecond, Error: fmt.Errorf("boom")})

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TotalBuilds)
	assert.Equal(t, int64(1), snap.SuccessfulBuilds)
	assert.Equal(t, int64(1), snap.FailedBuilds)
	assert.Equal(t, int64(3), snap.RenderHits)
	assert.Equal(t, int64(1), snap.RenderMisses)
	assert.Equal(t, 400*time.Millisecond, snap.TotalDuration)
	assert.Equal(t, 200*time.Millisecond, snap.AverageDuration)
	assert.Equal(t, started.Add(time.Minute), snap.LastBuild)

	assert.InDelta(t, 50.0, metrics.SuccessRate(), 0.001)
	assert.InDelta(t, 75.0, metrics.RenderHitRate(), 0.001)
}

func TestMetricsReset(t *testing.T) {
	metrics := NewMetrics()
	metrics.Record(&Result{Duration: time.Second, CacheHits: 1})

	metrics.Reset()

	snap := metrics.Snapshot()
	assert.Equal(t, int64(0), snap.TotalBuilds)
	assert.Equal(t, int64(0), snap.RenderHits)
	assert.Equal(t, time.Duration(0), snap.TotalDuration)
	assert.True(t, snap.LastBuild.IsZero())
}

func TestMetricsConcurrentAccess(t *testing.T) {
	metrics := NewMetrics()
	const numGoroutines = 10
	const buildsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < buildsPerGoroutine; j++ {
				result := &Result{Duration: time.Millisecond, CacheHits: 1}
				if j%4 == 0 {
					result.Error = fmt.Errorf("build %d/%d failed", id, j)
				}
				metrics.Record(result)
				_ = metrics.SuccessRate()
			}
		}(i)
	}
	wg.Wait()

	snap := metrics.Snapshot()
	assert.Equal(t, int64(numGoroutines*buildsPerGoroutine), snap.TotalBuilds)
	assert.Equal(t, int64(numGoroutines*buildsPerGoroutine/4), snap.FailedBuilds)
	assert.Equal(t, snap.TotalBuilds, snap.SuccessfulBuilds+snap.FailedBuilds)
	assert.Equal(t, time.Millisecond, snap.AverageDuration)
}

func TestBuilderRecordsMetrics(t *testing.T) {
	s := newSite(t)
	s.populate(t)

	b := NewBuilder(s.cfg, nil)
	_, err := b.Run(t.Context())
	require.NoError(t, err)

	snap := b.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalBuilds)
	assert.Equal(t, int64(1), snap.SuccessfulBuilds)
	assert.Equal(t, int64(2), snap.RenderMisses)
}
