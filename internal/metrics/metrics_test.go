package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoredSessions(t *testing.T) {
	t.Parallel()

	n := 2
	g := StoredSessions(func() int { return n })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(g))

	assert.Equal(t, float64(2), testutil.ToFloat64(g))
	n = 5
	assert.Equal(t, float64(5), testutil.ToFloat64(g))
}
