// Package metrics exposes the connector's operational counters on a private
// prometheus registry, served at /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PinCounter reports the size of the certificate pin store.
type PinCounter interface {
	Len() int
}

// SessionCounter reports how many scan sessions are in flight.
type SessionCounter interface {
	Active() int
}

// Config holds the state sources the collector samples.
type Config struct {
	Pins     PinCounter
	Sessions SessionCounter
}

// Collector owns the registry and every connector metric.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	upstreamStatus *prometheus.CounterVec
	authMethod     *prometheus.CounterVec
	inflight       prometheus.Gauge
	scansStarted   prometheus.Counter
	camerasFound   prometheus.Counter
	scansActive    prometheus.Gauge
	pinnedHosts    prometheus.Gauge
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector(cfg Config) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		config:   cfg,
		registry: reg,
	}

	c.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_requests_total",
		Help: "Connector API requests by endpoint and reply status",
	}, []string{"endpoint", "status"})
	reg.MustRegister(c.requestsTotal)

	c.upstreamStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_upstream_responses_total",
		Help: "Camera responses relayed by the proxy, by upstream status",
	}, []string{"status"})
	reg.MustRegister(c.upstreamStatus)

	c.authMethod = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connector_upstream_auth_total",
		Help: "Auth method that produced the final camera response",
	}, []string{"method"})
	reg.MustRegister(c.authMethod)

	c.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connector_requests_in_flight",
		Help: "Connector API requests currently being served",
	})
	reg.MustRegister(c.inflight)

	c.scansStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connector_scans_started_total",
		Help: "Scan sessions started",
	})
	reg.MustRegister(c.scansStarted)

	c.camerasFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connector_cameras_found_total",
		Help: "Cameras identified across all scans",
	})
	reg.MustRegister(c.camerasFound)

	c.scansActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connector_scans_active",
		Help: "Scan sessions currently running",
	})
	reg.MustRegister(c.scansActive)

	c.pinnedHosts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connector_pinned_hosts",
		Help: "Hosts with a recorded certificate fingerprint",
	})
	reg.MustRegister(c.pinnedHosts)

	return c
}

// Start samples the gauge sources until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Handler serves the registry in prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served API request.
func (c *Collector) ObserveRequest(endpoint string, status int) {
	c.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// ObserveUpstream records the camera's reply as relayed by the proxy.
func (c *Collector) ObserveUpstream(status int, authMethod string) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(status)).Inc()
	if authMethod != "" {
		c.authMethod.WithLabelValues(authMethod).Inc()
	}
}

// RequestStarted and RequestFinished bracket one in-flight request.
func (c *Collector) RequestStarted()  { c.inflight.Inc() }
func (c *Collector) RequestFinished() { c.inflight.Dec() }

// ScanStarted records a new session.
func (c *Collector) ScanStarted() { c.scansStarted.Inc() }

// CamerasFound adds to the running find total.
func (c *Collector) CamerasFound(n int) { c.camerasFound.Add(float64(n)) }

func (c *Collector) collect() {
	if c.config.Pins != nil {
		c.pinnedHosts.Set(float64(c.config.Pins.Len()))
	}
	if c.config.Sessions != nil {
		c.scansActive.Set(float64(c.config.Sessions.Active()))
	}
}
