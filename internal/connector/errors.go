package connector

import (
	"errors"
	"net/http"

	"github.com/anava-ai/anava-connector/internal/scan"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

// Error kinds raised by the connector itself; camera I/O kinds live in
// package vapix. All appear verbatim in the JSON error body.
const (
	KindOriginDenied = "origin-denied"
	KindParseError   = "parse-error"
	KindCancelled    = scan.KindCancelled

	// KindLicenseUnavailable: /generate-license was called but no signing
	// key is configured.
	KindLicenseUnavailable = "license-unavailable"
)

// errorBody is the wire shape of every error reply.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// httpStatusFor maps an error to the reply status: 400 for caller mistakes,
// 502 for anything that went wrong talking to the camera. Business errors
// never become 500s.
func httpStatusFor(err error) (int, string, string) {
	kind := vapix.KindOf(err)
	detail := err.Error()
	var ve *vapix.Error
	if errors.As(err, &ve) {
		detail = ve.Detail
	}

	switch kind {
	case KindParseError, scan.KindInvalidCIDR:
		return http.StatusBadRequest, kind, detail
	case KindOriginDenied:
		return http.StatusForbidden, kind, detail
	default:
		return http.StatusBadGateway, kind, detail
	}
}
