// Package bridge is the orchestrator's side of the connector API: a typed
// localhost HTTP client, the scan prober built on it, and the traffic-light
// health monitor. Everything that drives the connector from outside goes
// through this package, so the connector always sees the same wire shapes
// whether the caller is the web page glue or the scanner's worker pool.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anava-ai/anava-connector/internal/scan"
)

const (
	// HealthTimeout is deliberately long: a connector mid-scan can be slow
	// to answer without being down.
	HealthTimeout = 10 * time.Second

	proxyTimeout  = 35 * time.Second
	uploadTimeout = 200 * time.Second
)

// ProxyRequest is the /proxy body: one camera call made on the caller's
// behalf. Body is passed through byte-for-byte.
type ProxyRequest struct {
	URL      string          `json:"url"`
	Method   string          `json:"method"`
	Username string          `json:"username"`
	Password string          `json:"password"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// ProxyReply mirrors the upstream response: the camera's status code is
// reported here even when it is a 401, never translated into a connector
// error.
type ProxyReply struct {
	Status     int               `json:"status"`
	Data       json.RawMessage   `json:"data"`
	Headers    map[string]string `json:"headers"`
	AuthMethod string            `json:"authMethod,omitempty"`
}

// UploadACAPRequest names the camera and the package source to fetch.
type UploadACAPRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	ACAPURL  string `json:"acapUrl"`
}

// UploadLicenseRequest carries the signed license XML verbatim.
type UploadLicenseRequest struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	LicenseXML string `json:"licenseXML"`
}

// UploadReply is the camera's answer to either upload endpoint.
type UploadReply struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// StartScanRequest starts a subnet scan session.
type StartScanRequest struct {
	CIDR      string `json:"cidr"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Intensity string `json:"intensity,omitempty"`
}

// StartScanReply identifies the session and carries the subscribe token the
// initiating tab presents on /scan-results.
type StartScanReply struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	TotalIPs  int    `json:"totalIps"`
}

// GenerateLicenseRequest asks the connector's signer for license XML.
type GenerateLicenseRequest struct {
	DeviceID   string `json:"deviceId"`
	LicenseKey string `json:"licenseKey"`
}

// GenerateLicenseReply carries the signed document.
type GenerateLicenseReply struct {
	LicenseXML string `json:"licenseXml"`
}

// APIError is a non-2xx connector reply decoded into its stable kind.
type APIError struct {
	Status int
	Kind   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("connector replied %d [%s]: %s", e.Status, e.Kind, e.Detail)
}

// Client talks to the connector over loopback HTTP. Safe for concurrent use;
// scan workers share one instance.
type Client struct {
	base   string
	wsBase string
	std    *http.Client
	upload *http.Client
	health *http.Client
}

// NewClient returns a client for the connector at listen ("127.0.0.1:9876").
func NewClient(listen string) *Client {
	return &Client{
		base:   "http://" + listen,
		wsBase: "ws://" + listen,
		std:    &http.Client{Timeout: proxyTimeout},
		upload: &http.Client{Timeout: uploadTimeout},
		health: &http.Client{Timeout: HealthTimeout},
	}
}

// Health probes GET /health. Any error means the connector is unreachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint replied %d", resp.StatusCode)
	}
	return nil
}

// Proxy performs one authenticated camera call through the connector.
func (c *Client) Proxy(ctx context.Context, req ProxyRequest) (*ProxyReply, error) {
	var reply ProxyReply
	if err := c.post(ctx, c.std, "/proxy", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// UploadACAP deploys an application package; the call can take minutes while
// the camera installs.
func (c *Client) UploadACAP(ctx context.Context, req UploadACAPRequest) (*UploadReply, error) {
	var reply UploadReply
	if err := c.post(ctx, c.upload, "/upload-acap", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// UploadLicense installs signed license XML on the camera.
func (c *Client) UploadLicense(ctx context.Context, req UploadLicenseRequest) (*UploadReply, error) {
	var reply UploadReply
	if err := c.post(ctx, c.upload, "/upload-license", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GenerateLicense asks the connector to sign a license for a device.
func (c *Client) GenerateLicense(ctx context.Context, req GenerateLicenseRequest) (*GenerateLicenseReply, error) {
	var reply GenerateLicenseReply
	if err := c.post(ctx, c.std, "/generate-license", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// StartScan starts a session and returns its id and subscribe token.
func (c *Client) StartScan(ctx context.Context, req StartScanRequest) (*StartScanReply, error) {
	var reply StartScanReply
	if err := c.post(ctx, c.std, "/scan-network", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// CancelScan requests cooperative cancellation of a session.
func (c *Client) CancelScan(ctx context.Context, sessionID string) error {
	body := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return c.post(ctx, c.std, "/cancel-scan", body, &struct{}{})
}

// ScanStatus fetches the poll snapshot of a session.
func (c *Client) ScanStatus(ctx context.Context, sessionID string) (*scan.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/scan-status?session="+url.QueryEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.std.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	var snap scan.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("malformed scan status reply: %w", err)
	}
	return &snap, nil
}

// Subscribe streams progress events for one session to fn, in publish order,
// until the terminal event arrives or ctx is cancelled. The token binds the
// stream to the caller that started the scan.
func (c *Client) Subscribe(ctx context.Context, sessionID, token string, fn func(scan.Progress)) error {
	wsURL := fmt.Sprintf("%s/scan-results?session=%s&token=%s",
		c.wsBase, url.QueryEscape(sessionID), url.QueryEscape(token))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("failed to subscribe to scan %s: %w", sessionID, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var p scan.Progress
		if err := conn.ReadJSON(&p); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(p)
		if p.State == scan.StateComplete || p.State == scan.StateCancelled {
			return nil
		}
	}
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed reply from %s: %w", path, err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var wire struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		apiErr.Kind = wire.Error
		apiErr.Detail = wire.Detail
	} else {
		apiErr.Kind = "transport"
		apiErr.Detail = string(body)
	}
	return apiErr
}
