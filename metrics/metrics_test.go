package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ChunksTotal.Add(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// 两个独立 registry 互不冲突
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChunksTotal))
}

func TestStreamLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.StreamStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))

	m.StreamFailed(StageGenerate)
	done("error")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(StageGenerate)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StreamDuration))
}
