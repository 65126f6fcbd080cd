package vapix

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const (
	// UploadPartName is the multipart field cameras expect for both ACAP
	// and license uploads.
	UploadPartName = "fileData"

	// LicenseFileName is the filename cameras require on the license part.
	LicenseFileName = "license.xml"
)

// NewBoundary returns a random multipart boundary: the browser-style prefix
// plus 16 hex characters from the CSPRNG.
func NewBoundary() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return "----WebKitFormBoundary" + hex.EncodeToString(b)
}

// MultipartBody builds the single-part form body cameras accept. The layout
// is fixed: one part, CRLF line endings, a trailing --boundary-- terminator.
func MultipartBody(boundary, filename, contentType string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString(`Content-Disposition: form-data; name="` + UploadPartName + `"; filename="` + filename + `"` + "\r\n")
	buf.WriteString("Content-Type: " + contentType + "\r\n")
	buf.WriteString("\r\n")
	buf.Write(payload)
	buf.WriteString("\r\n")
	buf.WriteString("--" + boundary + "--\r\n")
	return buf.Bytes()
}

// LicenseUploadBody wraps signed license XML (UTF-8, no BOM, unmodified).
func LicenseUploadBody(boundary, licenseXML string) []byte {
	return MultipartBody(boundary, LicenseFileName, "text/xml", []byte(licenseXML))
}

// ACAPUploadBody wraps an .eap application package.
func ACAPUploadBody(boundary, filename string, eap []byte) []byte {
	return MultipartBody(boundary, filename, "application/octet-stream", eap)
}

// ACAPFileName derives the upload filename from the package source URL.
func ACAPFileName(sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if base := path.Base(u.Path); strings.HasSuffix(base, ".eap") {
			return base
		}
	}
	return "application.eap"
}

// MultipartContentType is the header value matching a MultipartBody.
func MultipartContentType(boundary string) string {
	return "multipart/form-data; boundary=" + boundary
}

// FetchACAP downloads an .eap package and buffers it fully before any camera
// upload starts; cameras reject bodies streamed mid-download. The download
// client verifies certificates normally: package sources are public HTTPS
// hosts, not self-signed cameras, and must never enter the pin store.
func (c *Client) FetchACAP(ctx context.Context, sourceURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, NewError(KindTransport, fmt.Sprintf("invalid package URL %q", sourceURL), err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.download.Do(httpReq)
	if err != nil {
		return nil, classify(err, httpReq.URL.Host)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindTransport,
			fmt.Sprintf("package source returned %d for %s", resp.StatusCode, sourceURL), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTransport, "failed to read package body", err)
	}
	return data, nil
}

// LicenseRejected inspects an upload reply for the camera's inline error
// marker. Cameras answer HTTP 200 with "Error: <code>" on failure; codes 0
// and 30 mean success or already-licensed.
func LicenseRejected(body []byte) bool {
	text := string(body)
	return strings.Contains(text, "Error:") &&
		!strings.Contains(text, "Error: 0") &&
		!strings.Contains(text, "Error: 30")
}
