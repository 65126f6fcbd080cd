package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeConnector serves handler on loopback and returns a Client pointed at
// it.
func newFakeConnector(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestClientHealth(t *testing.T) {
	healthy := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	assert.NoError(t, healthy.Health(context.Background()))

	broken := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	assert.Error(t, broken.Health(context.Background()))

	gone := NewClient("127.0.0.1:1")
	assert.Error(t, gone.Health(context.Background()))
}

func TestClientProxy(t *testing.T) {
	client := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/proxy", r.URL.Path)
		var req ProxyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://192.168.1.5/axis-cgi/basicdeviceinfo.cgi", req.URL)
		assert.Equal(t, "root", req.Username)

		json.NewEncoder(w).Encode(ProxyReply{
			Status:     200,
			Data:       json.RawMessage(`{"data":{}}`),
			Headers:    map[string]string{"Content-Type": "application/json"},
			AuthMethod: "digest",
		})
	}))

	reply, err := client.Proxy(context.Background(), ProxyRequest{
		URL:      "https://192.168.1.5/axis-cgi/basicdeviceinfo.cgi",
		Method:   http.MethodPost,
		Username: "root",
		Password: "pass",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Status)
	assert.Equal(t, "digest", reply.AuthMethod)
}

func TestClientDecodesAPIError(t *testing.T) {
	client := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"cert-mismatch","detail":"certificate changed for 192.168.1.5"}`)
	}))

	_, err := client.Proxy(context.Background(), ProxyRequest{URL: "https://192.168.1.5/"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "cert-mismatch", apiErr.Kind)
	assert.Contains(t, apiErr.Detail, "192.168.1.5")
}

func TestClientDecodesOpaqueError(t *testing.T) {
	client := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream blew up")
	}))

	_, err := client.Proxy(context.Background(), ProxyRequest{URL: "https://192.168.1.5/"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "transport", apiErr.Kind)
	assert.Equal(t, "upstream blew up", apiErr.Detail)
}

func TestClientStartAndCancelScan(t *testing.T) {
	client := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scan-network":
			var req StartScanRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "192.168.1.0/24", req.CIDR)
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(StartScanReply{SessionID: "s1", Token: "tok", TotalIPs: 254})
		case "/cancel-scan":
			fmt.Fprint(w, `{"status":"cancelling"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	reply, err := client.StartScan(context.Background(), StartScanRequest{CIDR: "192.168.1.0/24"})
	require.NoError(t, err)
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, 254, reply.TotalIPs)

	assert.NoError(t, client.CancelScan(context.Background(), "s1"))
}

func TestClientScanStatus(t *testing.T) {
	client := newFakeConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("session"))
		fmt.Fprint(w, `{"sessionId":"s1","state":"complete","scannedIps":254,"totalIps":254,"foundCount":2,"cameras":[]}`)
	}))

	snap, err := client.ScanStatus(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "complete", snap.State)
	assert.Equal(t, 254, snap.ScannedIPs)
	assert.Equal(t, 2, snap.FoundCount)
}
