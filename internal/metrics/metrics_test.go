package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	require.NotPanics(t, Register)
	require.NotPanics(t, Register)

	err := prometheus.Register(VerificationsTotal)
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}

func TestVerificationsTotal_Labels(t *testing.T) {
	c := VerificationsTotal.WithLabelValues("eth", "failure", "treasury_mismatch")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
