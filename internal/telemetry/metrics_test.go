package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordEngineActivity(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.CommitRecorded()
	m.CommitRecorded()
	m.SynthesisFinished("collider", "success", 2*time.Second)
	m.SynthesisFinished("collider", "failure", time.Second)
	m.SynthesisFinished("spark", "success", time.Second)
	m.PersistFailed()
	m.LibraryQueueDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.synthesis.WithLabelValues("collider", "failure")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.synthesis))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.libraryQueue))
}
