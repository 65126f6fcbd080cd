// Package vapix speaks the HTTP/JSON API family of Axis cameras: digest and
// basic authentication, the two-phase request sequence, multipart uploads
// and the basicdeviceinfo identity probe.
package vapix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anava-ai/anava-connector/internal/certstore"
	"github.com/anava-ai/anava-connector/internal/logging"
)

const (
	standardTimeout = 30 * time.Second
	uploadTimeout   = 180 * time.Second

	userAgent = "AnavaConnector/1.0"
)

// Auth methods reported on responses.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthDigest = "digest"
)

const transportRetries = 3

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}

// Request is one camera call. The body is held as bytes, not a stream, so
// every attempt sends an identical payload; cameras validate body structure
// early and a probe/retry mismatch surfaces as a spurious JSON syntax error.
type Request struct {
	URL         string
	Method      string
	ContentType string
	Body        []byte
	Credentials Credentials
}

// Response is the upstream reply plus the auth method that produced it.
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	AuthMethod string
}

// Client performs authenticated camera requests. It holds long-lived HTTP
// clients sharing one camera transport: standard (30s) for API calls and
// probes, upload (180s) for multipart deployments that cameras process
// synchronously. A third client with a stock transport fetches ACAP packages
// from public hosts. All are safe for concurrent use.
type Client struct {
	standard   *http.Client
	upload     *http.Client
	download   *http.Client
	logger     *log.Logger
	challenges *challengeCache
}

// NewClient wires the camera transport: OS-routed dialing, pinned-certificate
// TLS, no redirect following (cameras redirect HTTP to HTTPS and replaying
// credentials across schemes is the caller's decision, not the transport's).
func NewClient(store *certstore.Store, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			td := &tls.Dialer{NetDialer: dialer, Config: store.TLSConfig(host)}
			return td.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		standard: &http.Client{
			Transport:     transport,
			Timeout:       standardTimeout,
			CheckRedirect: noRedirect,
		},
		upload: &http.Client{
			Transport:     transport,
			Timeout:       uploadTimeout,
			CheckRedirect: noRedirect,
		},
		download: &http.Client{
			Timeout: standardTimeout,
		},
		logger:     logger,
		challenges: newChallengeCache(),
	}
}

// Do performs the two-phase sequence with the standard client: one
// unauthenticated probe, then on 401 an authenticated retry ordered by
// scheme (HTTPS tries Basic first, HTTP tries Digest first).
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.do(ctx, c.standard, req, true)
}

// DoUpload performs the same sequence with the upload client. The probe and
// challenge exchanges are sent without the body so a multipart payload is
// not carried twice.
func (c *Client) DoUpload(ctx context.Context, req *Request) (*Response, error) {
	return c.do(ctx, c.upload, req, false)
}

func (c *Client) do(ctx context.Context, hc *http.Client, req *Request, probeWithBody bool) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, NewError(KindTransport, fmt.Sprintf("invalid target URL %q", req.URL), err)
	}
	host := strings.ToLower(u.Hostname())

	probeBody := req.Body
	if !probeWithBody {
		probeBody = nil
	}

	probe, err := c.attempt(ctx, hc, req, u, probeBody, "", AuthNone)
	if err != nil {
		return nil, err
	}
	if probe.Status != http.StatusUnauthorized {
		c.logger.Printf("vapix: %s %s answered %d without auth", req.Method, host, probe.Status)
		if !probeWithBody && len(req.Body) > 0 {
			// The probe carried no body; send the real request now that no
			// auth is required.
			return c.attempt(ctx, hc, req, u, req.Body, "", AuthNone)
		}
		return probe, nil
	}

	order := []string{AuthDigest, AuthBasic}
	if u.Scheme == "https" {
		order = []string{AuthBasic, AuthDigest}
	}

	var last *Response
	var lastErr error
	for _, method := range order {
		var resp *Response
		switch method {
		case AuthBasic:
			resp, err = c.tryBasic(ctx, hc, req, u)
		case AuthDigest:
			resp, err = c.tryDigest(ctx, hc, req, u, host, probeBody)
		}
		if err != nil {
			c.logger.Printf("vapix: %s auth against %s failed: %v", method, host, err)
			lastErr = err
			continue
		}
		if resp.Status == http.StatusOK {
			c.logger.Printf("vapix: %s %s authenticated via %s", req.Method, host, method)
			return resp, nil
		}
		last = resp
	}

	if last != nil {
		if last.Status == http.StatusUnauthorized {
			c.logger.Printf("vapix: [%s] %s rejected credentials for user %s",
				KindAuthRejected, host, logging.MaskUsername(req.Credentials.Username))
		}
		return last, nil
	}
	return nil, lastErr
}

func (c *Client) tryBasic(ctx context.Context, hc *http.Client, req *Request, u *url.URL) (*Response, error) {
	creds := req.Credentials.Username + ":" + req.Credentials.Password
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	return c.attempt(ctx, hc, req, u, req.Body, auth, AuthBasic)
}

func (c *Client) tryDigest(ctx context.Context, hc *http.Client, req *Request, u *url.URL, host string, challengeBody []byte) (*Response, error) {
	ch, nc := c.challenges.next(host)
	if ch == nil {
		// No fresh nonce cached; fetch a challenge with an unauthenticated
		// exchange.
		resp, err := c.attempt(ctx, hc, req, u, challengeBody, "", AuthNone)
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusUnauthorized {
			// Whatever made the probe 401 has passed.
			return resp, nil
		}
		header := resp.Header.Get("WWW-Authenticate")
		if header == "" {
			return nil, NewError(KindChallengeParse, "401 response without WWW-Authenticate header", nil)
		}
		ch, err = ParseChallenge(header)
		if err != nil {
			return nil, err
		}
		c.challenges.put(host, ch)
		nc = 1
	}

	resp, err := c.digestAttempt(ctx, hc, req, u, ch, nc)
	if err != nil {
		return nil, err
	}

	// A stale nonce is answered once with the server's renewed challenge.
	// Two stales in a row means the server will never accept our counter.
	stales := 0
	for resp.Status == http.StatusUnauthorized {
		renewed, parseErr := ParseChallenge(resp.Header.Get("WWW-Authenticate"))
		if parseErr != nil || !renewed.Stale {
			break
		}
		stales++
		if stales >= 2 {
			c.challenges.remove(host)
			return nil, NewError(KindAuthStale, fmt.Sprintf("%s marked two nonces stale in a row", host), nil)
		}
		c.challenges.put(host, renewed)
		resp, err = c.digestAttempt(ctx, hc, req, u, renewed, 1)
		if err != nil {
			return nil, err
		}
	}

	if resp.Status == http.StatusUnauthorized {
		// Plain rejection; drop the nonce so the next request starts clean.
		c.challenges.remove(host)
	}
	return resp, nil
}

func (c *Client) digestAttempt(ctx context.Context, hc *http.Client, req *Request, u *url.URL, ch *Challenge, nc uint32) (*Response, error) {
	auth, err := ch.Authorization(req.Credentials, DigestParams{
		Method: req.Method,
		URI:    u.RequestURI(),
		Body:   req.Body,
		Cnonce: NewCnonce(),
		NC:     nc,
	})
	if err != nil {
		return nil, err
	}
	return c.attempt(ctx, hc, req, u, req.Body, auth, AuthDigest)
}

// attempt sends one HTTP exchange. Dial failures on the retry whitelist are
// retried up to transportRetries times with fixed back-off; everything else
// surfaces immediately.
func (c *Client) attempt(ctx context.Context, hc *http.Client, req *Request, u *url.URL, body []byte, authorization, method string) (*Response, error) {
	var lastErr error
	for i := 0; i < transportRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, NewError(KindTimeout, "request cancelled", ctx.Err())
			case <-time.After(retryBackoff[i-1]):
			}
		}

		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), reader)
		if err != nil {
			return nil, NewError(KindTransport, "failed to build request", err)
		}
		httpReq.Header.Set("User-Agent", userAgent)
		httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
		if len(body) > 0 {
			contentType := req.ContentType
			if contentType == "" {
				contentType = "application/json"
			}
			httpReq.Header.Set("Content-Type", contentType)
			httpReq.ContentLength = int64(len(body))
		}
		if authorization != "" {
			httpReq.Header.Set("Authorization", authorization)
		}

		httpResp, err := hc.Do(httpReq)
		if err != nil {
			lastErr = err
			if retryableTransport(err) {
				c.logger.Printf("vapix: transport error for %s (attempt %d/%d): %v", u.Host, i+1, transportRetries, err)
				continue
			}
			return nil, classify(err, u.Host)
		}
		return readResponse(httpResp, method)
	}
	return nil, classify(lastErr, u.Host)
}

func readResponse(httpResp *http.Response, method string) (*Response, error) {
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewError(KindTransport, "failed to read response body", err)
	}
	return &Response{
		Status:     httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		AuthMethod: method,
	}, nil
}

// retryableTransport matches the two dial failures worth retrying: a host
// bringing its network stack up, or a route flap. Substring matching is
// deliberate; the errno is wrapped differently per platform.
func retryableTransport(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "connection refused")
}

func classify(err error, host string) *Error {
	switch {
	case errors.Is(err, certstore.ErrMismatch):
		return NewError(KindCertMismatch, fmt.Sprintf("pinned certificate changed for %s", host), err)
	case isTimeout(err):
		return NewError(KindTimeout, fmt.Sprintf("request to %s timed out", host), err)
	default:
		return NewError(KindTransport, fmt.Sprintf("request to %s failed", host), err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
