package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"ciphersync/internal/metrics"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	before := testutil.ToFloat64(metrics.ResendAttempts)
	metrics.ResendAttempts.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(metrics.ResendAttempts))

	metrics.DeliveryResults.WithLabelValues("sent").Inc()
	require.Equal(t, 1, testutil.CollectAndCount(metrics.DeliveryResults))

	var already prometheus.AlreadyRegisteredError
	require.ErrorAs(t, reg.Register(metrics.ResendAttempts), &already)
}
