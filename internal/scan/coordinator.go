// Package scan drives concurrent subnet discovery: CIDR expansion, a
// worker pool sharing one atomic index, and per-session progress streams.
// The workers never touch cameras directly; each probe goes through the
// connector's proxy so the whole fleet sees one authentication and
// certificate-pinning path.
package scan

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anava-ai/anava-connector/internal/vapix"
)

const (
	// DefaultWorkers is the steady-state pool size. A batch-of-N pattern
	// (submit N, await all, submit next N) produces load spikes that make
	// the connector miss /health deadlines; a fixed pool smooths the
	// concurrent load.
	DefaultWorkers = 20

	// MaxWorkers caps the pool regardless of intensity hint.
	MaxWorkers = 30

	// progressEvery is the probe count between routine progress events.
	// Finds are reported immediately.
	progressEvery = 10

	// eventBuffer sizes each session's progress channel. A slow or absent
	// subscriber drops routine events rather than stalling the collector.
	eventBuffer = 256

	// sessionRetention keeps finished sessions pollable before they are
	// pruned, so a page can fetch the final snapshot after the stream ends.
	sessionRetention = 10 * time.Minute
)

// Prober identifies the device at one address. A nil Camera with nil error
// means nothing answered there; an error counts the address as failed.
// Implementations are called from up to MaxWorkers goroutines.
type Prober interface {
	Probe(ctx context.Context, ip string, creds vapix.Credentials) (*Camera, error)
}

// Observer receives scan lifecycle counts; the metrics collector implements
// it. Calls arrive from the collector goroutine, one session at a time.
type Observer interface {
	ScanStarted()
	CamerasFound(n int)
}

// Manager creates and tracks scan sessions.
type Manager struct {
	prober   Prober
	logger   *log.Logger
	observer Observer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager probing through the given Prober.
func NewManager(prober Prober, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		prober:   prober,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// SetObserver attaches the lifecycle observer. Call before any Start.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// WorkersFor maps the intensity hint to a pool size. Unknown hints get the
// default.
func WorkersFor(intensity string) int {
	switch intensity {
	case "conservative":
		return 10
	case "aggressive":
		return MaxWorkers
	default:
		return DefaultWorkers
	}
}

// Start expands the CIDR, registers a session and launches the pool. The
// context bounds the whole scan; cancelling it stops workers between probes
// just like Session.Cancel.
func (m *Manager) Start(ctx context.Context, cidr string, creds vapix.Credentials, intensity string) (*Session, error) {
	ips, err := ExpandCIDR(cidr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		CIDR:      cidr,
		StartedAt: time.Now().UTC(),
		Total:     len(ips),
		creds:     creds,
		ips:       ips,
		events:    make(chan Progress, eventBuffer),
		done:      make(chan struct{}),
		state:     StateScanning,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	workers := WorkersFor(intensity)
	if workers > len(ips) {
		workers = len(ips)
	}
	m.logger.Printf("scan: session %s scanning %s (%d addresses, %d workers)", s.ID, cidr, len(ips), workers)
	if m.observer != nil {
		m.observer.ScanStarted()
	}

	results := make(chan outcome)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx, s, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	go m.collect(s, results)

	return s, nil
}

// Get returns a live or recently finished session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Cancel flags the session; workers drain cooperatively and the collector
// emits the cancelled terminal event. Returns false for an unknown id.
func (m *Manager) Cancel(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.Cancel()
	m.logger.Printf("scan: session %s cancellation requested", id)
	return true
}

// Active counts sessions still scanning.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.state == StateScanning {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

type outcome struct {
	ip     string
	camera *Camera
	err    error
}

// worker pulls the next index until the vector is exhausted or the session
// is cancelled. The shared counter means probes start in ascending IP order;
// completion order is whatever the network gives back.
func (m *Manager) worker(ctx context.Context, s *Session, results chan<- outcome) {
	for {
		if s.Cancelled() || ctx.Err() != nil {
			return
		}
		i := s.next.Add(1) - 1
		if i >= int64(len(s.ips)) {
			return
		}
		ip := s.ips[i]

		camera, err := m.prober.Probe(ctx, ip, s.creds)
		select {
		case results <- outcome{ip: ip, camera: camera, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// collect is the single consumer of worker outcomes. It alone moves the
// counters and publishes events, which keeps progress monotonic and the
// stream strictly ordered.
func (m *Manager) collect(s *Session, results <-chan outcome) {
	sinceReport := 0
	for out := range results {
		s.scanned.Add(1)
		s.mu.Lock()
		s.lastIP = out.ip
		s.mu.Unlock()
		sinceReport++

		switch {
		case out.err != nil:
			// Per-address failures are not session failures; the address is
			// counted scanned and skipped.
			m.logger.Printf("scan: session %s probe %s failed: %v", s.ID, out.ip, out.err)
		case out.camera == nil:
			// Nothing there.
		case out.camera.DeviceKind != string(vapix.DeviceCamera):
			m.logger.Printf("scan: session %s found non-camera %s at %s (%s), filtered",
				s.ID, out.camera.ProductNumber, out.ip, out.camera.DeviceKind)
		default:
			s.found.Add(1)
			s.mu.Lock()
			s.cameras = append(s.cameras, *out.camera)
			s.mu.Unlock()
			if m.observer != nil {
				m.observer.CamerasFound(1)
			}
			m.logger.Printf("scan: session %s found %s at %s (firmware %s)",
				s.ID, out.camera.ProductNumber, out.ip, out.camera.Firmware)
			m.publish(s, s.progress(StateScanning, out.camera))
			sinceReport = 0
			continue
		}

		if sinceReport >= progressEvery {
			m.publish(s, s.progress(StateScanning, nil))
			sinceReport = 0
		}
	}

	state := StateComplete
	if s.Cancelled() {
		state = StateCancelled
	}
	s.setState(state)
	m.publish(s, s.progress(state, nil))
	close(s.events)
	close(s.done)
	m.logger.Printf("scan: session %s %s: %d/%d scanned, %d cameras",
		s.ID, state, s.scanned.Load(), s.Total, s.found.Load())

	time.AfterFunc(sessionRetention, func() { m.prune(s.ID) })
}

// publish never blocks the collector: when the buffer is full the oldest
// event is dropped so the subscriber still sees fresh counters in order.
func (m *Manager) publish(s *Session, p Progress) {
	for {
		select {
		case s.events <- p:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}

func (m *Manager) prune(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
