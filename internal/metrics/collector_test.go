package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPins int

func (p fixedPins) Len() int { return int(p) }

type fixedSessions int

func (s fixedSessions) Active() int { return int(s) }

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorExposesCounters(t *testing.T) {
	c := NewCollector(Config{Pins: fixedPins(3), Sessions: fixedSessions(1)})

	c.ObserveRequest("/proxy", 200)
	c.ObserveRequest("/proxy", 200)
	c.ObserveRequest("/scan-network", 202)
	c.ObserveUpstream(401, "digest")
	c.ScanStarted()
	c.CamerasFound(4)
	c.collect()

	body := scrape(t, c)
	assert.Contains(t, body, `connector_requests_total{endpoint="/proxy",status="200"} 2`)
	assert.Contains(t, body, `connector_requests_total{endpoint="/scan-network",status="202"} 1`)
	assert.Contains(t, body, `connector_upstream_responses_total{status="401"} 1`)
	assert.Contains(t, body, `connector_upstream_auth_total{method="digest"} 1`)
	assert.Contains(t, body, `connector_scans_started_total 1`)
	assert.Contains(t, body, `connector_cameras_found_total 4`)
	assert.Contains(t, body, `connector_scans_active 1`)
	assert.Contains(t, body, `connector_pinned_hosts 3`)
}

func TestCollectorInFlightGauge(t *testing.T) {
	c := NewCollector(Config{})

	c.RequestStarted()
	c.RequestStarted()
	c.RequestFinished()

	assert.Contains(t, scrape(t, c), `connector_requests_in_flight 1`)
}

func TestCollectorTracksEmptySources(t *testing.T) {
	c := NewCollector(Config{})
	c.collect() // nil sources must not panic
	assert.Contains(t, scrape(t, c), `connector_pinned_hosts 0`)
}
