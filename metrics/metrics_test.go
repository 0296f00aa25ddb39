package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusRecorder(reg, "test")
	require.NoError(t, err)

	recorder.RecordOperation("soul", "create", 5*time.Millisecond, true)
	recorder.RecordOperation("soul", "create", 5*time.Millisecond, true)
	recorder.RecordOperation("soul", "create", 5*time.Millisecond, false)

	ok := recorder.operations.WithLabelValues("soul", "create", "ok")
	failed := recorder.operations.WithLabelValues("soul", "create", "error")
	assert.Equal(t, 2.0, promtestutil.ToFloat64(ok))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(failed))
}

func TestPrometheusRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg, "test")
	require.NoError(t, err)
	_, err = NewPrometheusRecorder(reg, "test")
	assert.Error(t, err)
}
