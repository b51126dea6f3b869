package proxymetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrementBothAtomicAndPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncBindAttempt()
	m.IncBindSuccess()
	m.IncBindFail()
	m.IncSearchAttempt()
	m.IncSearchDenied()
	m.IncCacheHit()
	m.IncCacheMiss()

	assert.EqualValues(t, 1, m.BindAttempts.Load())
	assert.EqualValues(t, 1, m.BindSuccess.Load())
	assert.EqualValues(t, 1, m.BindFail.Load())
	assert.EqualValues(t, 1, m.SearchAttempts.Load())
	assert.EqualValues(t, 1, m.SearchDenied.Load())
	assert.EqualValues(t, 1, m.CacheHits.Load())
	assert.EqualValues(t, 1, m.CacheMisses.Load())

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestNewRegistersEachCounterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { New(reg) })
}
