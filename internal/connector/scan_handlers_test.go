package connector

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anava-ai/anava-connector/internal/scan"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

func startScan(t *testing.T, env *testEnv, cidr string) scanNetworkReply {
	t.Helper()
	resp := postJSON(t, env.srv.URL+"/scan-network", map[string]any{
		"cidr":      cidr,
		"username":  "anava",
		"password":  "baton",
		"intensity": "balanced",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	return decode[scanNetworkReply](t, resp)
}

func waitForScan(t *testing.T, env *testEnv, sessionID string) *scan.Session {
	t.Helper()
	session, ok := env.scans.Get(sessionID)
	require.True(t, ok)
	select {
	case <-session.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("scan did not finish")
	}
	return session
}

func TestScanNetworkExpandsSlash24(t *testing.T) {
	env := newTestEnv(t, emptyProber, nil)

	reply := startScan(t, env, "192.168.1.0/24")
	assert.NotEmpty(t, reply.SessionID)
	assert.NotEmpty(t, reply.Token)
	assert.Equal(t, 254, reply.TotalIPs)

	waitForScan(t, env, reply.SessionID)
}

func TestScanNetworkRejectsBadCIDR(t *testing.T) {
	env := newTestEnv(t, emptyProber, nil)

	resp := postJSON(t, env.srv.URL+"/scan-network", map[string]any{"cidr": "not-a-network"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, scan.KindInvalidCIDR, body["error"])
}

func TestScanStatusReportsCompletion(t *testing.T) {
	prober := probeFunc(func(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
		if ip != "10.0.0.3" {
			return nil, nil
		}
		return &scan.Camera{
			IP: ip, Port: 443, Protocol: "https",
			ProductNumber: "M3215-LVE", SerialNumber: "B8A44F45D624",
			Firmware: "11.11.73", DeviceKind: "camera", AuthMethod: "digest",
		}, nil
	})
	env := newTestEnv(t, prober, nil)

	reply := startScan(t, env, "10.0.0.0/29")
	waitForScan(t, env, reply.SessionID)

	resp, err := http.Get(env.srv.URL + "/scan-status?session=" + reply.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decode[scan.Snapshot](t, resp)
	assert.Equal(t, scan.StateComplete, snap.State)
	assert.Equal(t, 6, snap.ScannedIPs)
	assert.Equal(t, 6, snap.TotalIPs)
	require.Len(t, snap.Cameras, 1)
	assert.Equal(t, "10.0.0.3", snap.Cameras[0].IP)
}

func TestScanStatusUnknownSession(t *testing.T) {
	env := newTestEnv(t, emptyProber, nil)

	resp, err := http.Get(env.srv.URL + "/scan-status?session=deadbeef")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelScan(t *testing.T) {
	release := make(chan struct{})
	prober := probeFunc(func(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	env := newTestEnv(t, prober, nil)

	reply := startScan(t, env, "10.0.0.0/24")
	resp := postJSON(t, env.srv.URL+"/cancel-scan", map[string]any{"sessionId": reply.SessionID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	close(release)

	session := waitForScan(t, env, reply.SessionID)
	assert.Equal(t, scan.StateCancelled, session.Snapshot().State)
}

func TestCancelScanUnknownSession(t *testing.T) {
	env := newTestEnv(t, emptyProber, nil)

	resp := postJSON(t, env.srv.URL+"/cancel-scan", map[string]any{"sessionId": "deadbeef"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestScanResultsStreamsToTokenHolder(t *testing.T) {
	prober := probeFunc(func(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
		if ip != "192.168.7.5" {
			return nil, nil
		}
		return &scan.Camera{IP: ip, Port: 443, Protocol: "https", DeviceKind: "camera", AuthMethod: "basic"}, nil
	})
	env := newTestEnv(t, prober, nil)

	reply := startScan(t, env, "192.168.7.0/26")

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(env.srv.URL, "/scan-results?session="+reply.SessionID+"&token="+reply.Token), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var (
		events    []scan.Progress
		sawCamera bool
	)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var p scan.Progress
		if err := conn.ReadJSON(&p); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			break
		}
		events = append(events, p)
		if p.Camera != nil {
			sawCamera = true
			assert.Equal(t, "192.168.7.5", p.Camera.IP)
		}
		if p.State != scan.StateScanning {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.True(t, sawCamera, "find event never arrived")

	// counters never go backwards across the stream
	prev := events[0]
	for _, p := range events[1:] {
		assert.GreaterOrEqual(t, p.ScannedIPs, prev.ScannedIPs)
		assert.GreaterOrEqual(t, p.FoundCount, prev.FoundCount)
		prev = p
	}

	terminal := events[len(events)-1]
	assert.Equal(t, scan.StateComplete, terminal.State)
	assert.Equal(t, 62, terminal.ScannedIPs)
	assert.Equal(t, 62, terminal.TotalIPs)
	assert.Equal(t, 1, terminal.FoundCount)
}

func TestScanResultsRejectsForeignToken(t *testing.T) {
	env := newTestEnv(t, emptyProber, nil)

	first := startScan(t, env, "10.1.0.0/29")
	second := startScan(t, env, "10.2.0.0/29")

	// a token for one session does not open another session's stream
	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(env.srv.URL, "/scan-results?session="+first.SessionID+"&token="+second.Token), nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	waitForScan(t, env, first.SessionID)
	waitForScan(t, env, second.SessionID)
}

func TestScanResultsSingleSubscriber(t *testing.T) {
	release := make(chan struct{})
	prober := probeFunc(func(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	env := newTestEnv(t, prober, nil)

	reply := startScan(t, env, "10.3.0.0/28")
	target := wsURL(env.srv.URL, "/scan-results?session="+reply.SessionID+"&token="+reply.Token)

	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn2, resp2, err := websocket.DefaultDialer.Dial(target, nil)
	require.Error(t, err)
	if conn2 != nil {
		conn2.Close()
	}
	require.NotNil(t, resp2)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	close(release)
	waitForScan(t, env, reply.SessionID)
}
