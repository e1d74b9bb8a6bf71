package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/ethrpc/metrics"
)

func TestRouter(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "test",
		Name:      "hits",
		Help:      "Test counter",
	})
	require.NoError(t, m.Register(c))
	require.Error(t, m.Register(c))
	c.Add(3)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "ethrpc_test_hits 3")

	resp2, err := http.Get(srv.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}
