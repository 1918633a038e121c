package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEmissionMetrics_Contadores(t *testing.T) {
	m := NewEmissionMetrics("test")

	m.ObserveChannel("submit", "PENDING", 200*time.Millisecond, nil)
	m.ObserveChannel("submit", "ACCEPTED", 150*time.Millisecond, nil)
	m.ObserveChannel("query", "", time.Second, errors.New("timeout"))
	m.Retry()
	m.Retry()
	m.DocumentStatus("AUTHORIZED")
	m.LocalFailure("sign")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelResponses.WithLabelValues("submit", "PENDING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelErrors.WithLabelValues("query")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsByStatus.WithLabelValues("AUTHORIZED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LocalFailures.WithLabelValues("sign")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ChannelLatency))
}

func TestEmissionMetrics_NilNoPanica(t *testing.T) {
	var m *EmissionMetrics
	assert.NotPanics(t, func() {
		m.ObserveChannel("submit", "ACCEPTED", time.Second, nil)
		m.Retry()
		m.DocumentStatus("FAILED")
		m.LocalFailure("compose")
	})
}
