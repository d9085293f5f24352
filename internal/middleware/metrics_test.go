package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tabletop/pkg/metrics"
)

func collect(t *testing.T, collector prometheus.Collector) []*dto.Metric {
	t.Helper()

	series := make(chan prometheus.Metric, 16)
	collector.Collect(series)
	close(series)

	out := make([]*dto.Metric, 0, len(series))
	for m := range series {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		out = append(out, &pb)
	}
	return out
}

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/sessions/:sessionID", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/ws/sessions/:sessionID", func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/b", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	upgrade := httptest.NewRequest(http.MethodGet, "/ws/sessions/a", nil)
	upgrade.Header.Set("Connection", "keep-alive, Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), upgrade)

	// Route templates keep ids out of labels; upgrades are not timed.
	latency := collect(t, metrics.APILatency)
	require.Len(t, latency, 2)
	routes := make([]string, 0, len(latency))
	for _, m := range latency {
		for _, label := range m.GetLabel() {
			if label.GetName() == "path" {
				routes = append(routes, label.GetValue())
			}
		}
	}
	require.ElementsMatch(t, []string{"/api/sessions/:sessionID", unmatchedRoute}, routes)

	upgrades := collect(t, metrics.WebsocketUpgrades)
	require.Len(t, upgrades, 1)
	require.Equal(t, "400", upgrades[0].GetLabel()[0].GetValue())
	require.Equal(t, float64(1), upgrades[0].GetCounter().GetValue())

	inFlight := collect(t, metrics.HTTPInFlight)
	require.Equal(t, float64(0), inFlight[0].GetGauge().GetValue())
}
