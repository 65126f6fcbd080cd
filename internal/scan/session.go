package scan

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anava-ai/anava-connector/internal/vapix"
)

// Session states carried on progress events and snapshots.
const (
	StateScanning  = "scanning"
	StateComplete  = "complete"
	StateCancelled = "cancelled"
)

// KindCancelled tags the terminal state of a cancelled session.
const KindCancelled = "cancelled"

// ErrAlreadySubscribed is returned by Subscribe when the session's event
// stream has a consumer; progress is a single-producer/single-consumer pipe
// delivered to the one subscriber that initiated the scan.
var ErrAlreadySubscribed = errors.New("scan session already has a subscriber")

// Camera is one identified device, immutable once emitted. Identity key is
// (IP, Port). Devices below the firmware floor stay in the result set with
// Unsupported set rather than disappearing silently.
type Camera struct {
	IP              string `json:"ip"`
	Port            int    `json:"port"`
	Protocol        string `json:"protocol"`
	ProductNumber   string `json:"productNumber"`
	ProductFullName string `json:"productFullName"`
	ProductType     string `json:"productType"`
	SerialNumber    string `json:"serialNumber"`
	Firmware        string `json:"firmware"`
	DeviceKind      string `json:"deviceKind"`
	AuthMethod      string `json:"authMethod"`
	Unsupported     bool   `json:"unsupported,omitempty"`
}

// Progress is one event on a session's stream. Counters are monotonic
// non-decreasing between events; Camera is set only on a find.
type Progress struct {
	State      string  `json:"state"`
	ScannedIPs int     `json:"scannedIps"`
	TotalIPs   int     `json:"totalIps"`
	FoundCount int     `json:"foundCount"`
	LastIP     string  `json:"lastIp,omitempty"`
	Camera     *Camera `json:"camera,omitempty"`
}

// Snapshot is the poll view of a session, served by /scan-status.
type Snapshot struct {
	SessionID  string    `json:"sessionId"`
	State      string    `json:"state"`
	CIDR       string    `json:"cidr"`
	StartedAt  time.Time `json:"startedAt"`
	ScannedIPs int       `json:"scannedIps"`
	TotalIPs   int       `json:"totalIps"`
	FoundCount int       `json:"foundCount"`
	LastIP     string    `json:"lastIp,omitempty"`
	Cameras    []Camera  `json:"cameras"`
}

// Session owns one scan: the expanded task vector, the shared worker index
// and the progress stream. Credentials live only here, in memory, for the
// lifetime of the scan.
type Session struct {
	ID        string
	CIDR      string
	StartedAt time.Time
	Total     int

	creds vapix.Credentials
	ips   []string

	next      atomic.Int64 // shared worker index into ips
	scanned   atomic.Int64
	found     atomic.Int64
	cancelled atomic.Bool

	subscribed atomic.Bool
	events     chan Progress
	done       chan struct{}

	mu      sync.Mutex
	state   string
	lastIP  string
	cameras []Camera
}

// Cancel requests cooperative cancellation. Workers observe the flag before
// pulling their next address; the probe already in flight is not aborted.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Done is closed when the collector has emitted the terminal event.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe hands out the event stream exactly once. The channel is closed
// after the terminal event.
func (s *Session) Subscribe() (<-chan Progress, error) {
	if !s.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	return s.events, nil
}

// Snapshot returns the current counters and found set. Safe to call from any
// goroutine while the scan runs.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:  s.ID,
		State:      s.state,
		CIDR:       s.CIDR,
		StartedAt:  s.StartedAt,
		ScannedIPs: int(s.scanned.Load()),
		TotalIPs:   s.Total,
		FoundCount: int(s.found.Load()),
		LastIP:     s.lastIP,
		Cameras:    append([]Camera(nil), s.cameras...),
	}
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// progress builds a Progress from the live counters.
func (s *Session) progress(state string, camera *Camera) Progress {
	s.mu.Lock()
	last := s.lastIP
	s.mu.Unlock()
	return Progress{
		State:      state,
		ScannedIPs: int(s.scanned.Load()),
		TotalIPs:   s.Total,
		FoundCount: int(s.found.Load()),
		LastIP:     last,
		Camera:     camera,
	}
}
