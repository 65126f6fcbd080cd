// Package certstore pins camera TLS certificates on first contact. Cameras
// ship self-signed certificates, so chain validation is useless; instead the
// store records the SHA-256 fingerprint of the leaf certificate the first
// time a host is contacted and rejects any later connection that presents a
// different one. Removing or correcting a pin is an out-of-band edit of the
// store file; a watcher picks the edit up without a restart.
package certstore

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrMismatch is wrapped by every rejection of a changed certificate.
// Callers match it with errors.Is through the tls/url error chain.
var ErrMismatch = errors.New("certificate fingerprint mismatch")

// Pin is one stored fingerprint.
type Pin struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
}

// Store is the on-disk fingerprint map, keyed by host (IP or name, no port).
type Store struct {
	path   string
	logger *log.Logger

	mu    sync.Mutex
	pins  map[string]Pin
	mtime time.Time
}

// New opens the store at path, loading any existing pins. A missing file is
// an empty store, not an error.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		path:   path,
		logger: logger,
		pins:   make(map[string]Pin),
	}
	if err := s.Reload(); err != nil && !os.IsNotExist(err) {
		logger.Printf("certstore: failed to load %s: %v", path, err)
	}
	return s
}

// Fingerprint returns the SHA-256 digest of the certificate's DER encoding,
// lowercase hex.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the pin recorded for host.
func (s *Store) Lookup(host string) (Pin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin, ok := s.pins[host]
	return pin, ok
}

// Len returns the number of pinned hosts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pins)
}

// VerifyPeer implements trust-on-first-use for host. An unknown host is
// pinned and allowed. A known host is allowed only when the presented leaf
// matches the recorded fingerprint; on mismatch the connection is rejected
// and the stored pin is left untouched so the operator can inspect it.
func (s *Store) VerifyPeer(host string, chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("no peer certificates presented by %s", host)
	}
	presented := Fingerprint(chain[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	if pin, ok := s.pins[host]; ok {
		if pin.Fingerprint != presented {
			s.logger.Printf("certstore: SECURITY: certificate changed for %s (pinned %s, presented %s)",
				host, pin.Fingerprint, presented)
			return fmt.Errorf("%w for %s", ErrMismatch, host)
		}
		return nil
	}

	s.pins[host] = Pin{Fingerprint: presented, FirstSeen: time.Now().UTC()}
	s.logger.Printf("certstore: pinned new host %s (%s)", host, presented)
	if err := s.persistLocked(); err != nil {
		// The connection stays trusted in memory; only durability suffered.
		s.logger.Printf("certstore: failed to persist pins: %v", err)
	}
	return nil
}

// TLSConfig returns a config for one connection to host. Stdlib chain
// verification is disabled (self-signed certificates) and replaced by the
// pin check. Hosts are pinned lower-cased and without port.
func (s *Store) TLSConfig(host string) *tls.Config {
	host = strings.ToLower(host)
	return &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         host,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return s.VerifyPeer(host, cs.PeerCertificates)
		},
	}
}

// Reload replaces the in-memory pins with the file contents. Called at
// startup and whenever the watcher sees the file change.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	info, statErr := os.Stat(s.path)

	pins := make(map[string]Pin)
	if err := json.Unmarshal(data, &pins); err != nil {
		return fmt.Errorf("failed to parse certificate store: %w", err)
	}

	s.mu.Lock()
	s.pins = pins
	if statErr == nil {
		s.mtime = info.ModTime()
	}
	s.mu.Unlock()
	return nil
}

// reloadIfChanged re-reads the file only when its mtime moved, so the
// polling safety net stays quiet between edits.
func (s *Store) reloadIfChanged() {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.mu.Lock()
	unchanged := info.ModTime().Equal(s.mtime)
	s.mu.Unlock()
	if unchanged {
		return
	}
	if err := s.Reload(); err != nil {
		s.logger.Printf("certstore: reload failed: %v", err)
	}
}

// persistLocked writes the pin map atomically (temp file + rename) with
// owner-only permissions. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.pins, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".certstore-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}

	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
	}
	return nil
}
