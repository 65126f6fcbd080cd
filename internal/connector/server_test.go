package connector

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anava-ai/anava-connector/internal/certstore"
	"github.com/anava-ai/anava-connector/internal/config"
	"github.com/anava-ai/anava-connector/internal/license"
	"github.com/anava-ai/anava-connector/internal/metrics"
	"github.com/anava-ai/anava-connector/internal/scan"
	"github.com/anava-ai/anava-connector/internal/tokens"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

// probeFunc adapts a function to scan.Prober for tests.
type probeFunc func(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error)

func (f probeFunc) Probe(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
	return f(ctx, ip, creds)
}

var emptyProber = probeFunc(func(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
	return nil, nil
})

type testEnv struct {
	srv    *httptest.Server
	server *Server
	scans  *scan.Manager
	tokens *tokens.Manager
}

func newTestEnv(t *testing.T, prober scan.Prober, signer *license.Signer) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.CertStore = filepath.Join(t.TempDir(), "pins.json")

	logger := log.New(io.Discard, "", 0)
	store := certstore.New(cfg.CertStore, logger)
	cameras := vapix.NewClient(store, logger)
	scans := scan.NewManager(prober, logger)
	tokenMgr, err := tokens.NewManager()
	require.NoError(t, err)
	collector := metrics.NewCollector(metrics.Config{Pins: store, Sessions: scans})
	scans.SetObserver(collector)

	server := New(cfg, logger, cameras, scans, tokenMgr, signer, collector)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, server: server, scans: scans, tokens: tokenMgr}
}
