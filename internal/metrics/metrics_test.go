package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskCreated("sora-video")
	m.TaskCreated("sora-video")
	m.TaskFinished("sora-video", "completed")
	m.LedgerFailure("deduct")
	m.ProviderCall("sora", "sora-video", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksCreated.WithLabelValues("sora-video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksFinished.WithLabelValues("sora-video", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerFailures.WithLabelValues("deduct")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskCreated("x")
		m.TaskFinished("x", "failed")
		m.ProviderCall("c", "x", time.Second)
		m.ProviderError("c", "timeout")
		m.LedgerFailure("refund")
		m.HTTPRequest("GET", "/", "200")
	})
}
