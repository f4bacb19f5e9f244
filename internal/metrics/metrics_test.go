package metrics_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := metrics.New(reg)

	m.Refresh(metrics.RefreshSuccess)
	m.Refresh(metrics.RefreshSuccess)
	m.Retry()
	m.Request(metrics.OutcomeOK)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(metrics.RefreshSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Retries))

	count, err := testutil.GatherAndCount(reg, "auth_client_requests_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Refresh(metrics.RefreshExpired)
		m.Retry()
		m.Request(metrics.OutcomeCancelled)
	})
}
