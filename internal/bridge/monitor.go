package bridge

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// Status is the traffic light shown next to the connector indicator.
type Status string

const (
	// StatusGreen: connector healthy and the web app reachable.
	StatusGreen Status = "green"
	// StatusYellow: connector healthy but the web app origin is not
	// reachable from this machine.
	StatusYellow Status = "yellow"
	// StatusRed: connector unreachable.
	StatusRed Status = "red"
)

const (
	healthInterval = 10 * time.Second
	webappTimeout  = 5 * time.Second
)

// Monitor polls the connector's /health on a fixed cadence and folds in a
// reachability check of the web app origin. The result is advisory: it
// drives an indicator, never a blocking dialog.
type Monitor struct {
	client *Client
	webapp string
	logger *log.Logger
	probe  *http.Client

	mu       sync.Mutex
	current  Status
	lastErr  error
	onChange func(Status)
}

// NewMonitor returns a monitor for the given client. webappOrigin may be
// empty, in which case only the connector check runs.
func NewMonitor(client *Client, webappOrigin string, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		client:  client,
		webapp:  webappOrigin,
		logger:  logger,
		probe:   &http.Client{Timeout: webappTimeout},
		current: StatusRed,
	}
}

// OnChange registers a callback invoked on every status transition. Must be
// called before Run.
func (m *Monitor) OnChange(fn func(Status)) {
	m.onChange = fn
}

// Status returns the most recent traffic light.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// LastError returns the error behind a non-green status, for inspection.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Run polls until ctx is cancelled. The first check happens immediately so
// the indicator is live before the first tick.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	status, err := m.evaluate(ctx)

	m.mu.Lock()
	changed := status != m.current
	m.current = status
	m.lastErr = err
	fn := m.onChange
	m.mu.Unlock()

	if changed {
		if err != nil {
			m.logger.Printf("bridge: connector status %s: %v", status, err)
		} else {
			m.logger.Printf("bridge: connector status %s", status)
		}
		if fn != nil {
			fn(status)
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context) (Status, error) {
	healthCtx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	if err := m.client.Health(healthCtx); err != nil {
		return StatusRed, err
	}

	if m.webapp == "" {
		return StatusGreen, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.webapp, nil)
	if err != nil {
		return StatusYellow, err
	}
	resp, err := m.probe.Do(req)
	if err != nil {
		return StatusYellow, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return StatusGreen, nil
}
