package connector

import (
	"encoding/json"
	"net/http"

	"github.com/anava-ai/anava-connector/internal/license"
	"github.com/anava-ai/anava-connector/internal/logging"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type proxyRequest struct {
	URL      string          `json:"url"`
	Method   string          `json:"method"`
	Username string          `json:"username"`
	Password string          `json:"password"`
	Body     json.RawMessage `json:"body"`
}

type proxyReply struct {
	Status     int               `json:"status"`
	Data       json.RawMessage   `json:"data"`
	Headers    map[string]string `json:"headers"`
	AuthMethod string            `json:"authMethod,omitempty"`
}

// handleProxy performs one authenticated camera request on the caller's
// behalf and mirrors the upstream answer. An upstream 401 is a successful
// proxy call: it comes back as 200 with status 401 inside.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "request body is not valid JSON")
		return
	}
	if req.URL == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing url")
		return
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body []byte
	if len(req.Body) > 0 && string(req.Body) != "null" {
		body = req.Body
	}

	s.logger.Printf("connector: proxy %s %s user=%s body=%d bytes",
		method, req.URL, logging.MaskUsername(req.Username), len(body))

	resp, err := s.cameras.Do(r.Context(), &vapix.Request{
		URL:         req.URL,
		Method:      method,
		Body:        body,
		Credentials: vapix.Credentials{Username: req.Username, Password: req.Password},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveUpstream(resp.Status, resp.AuthMethod)
	}
	s.writeJSON(w, http.StatusOK, proxyReply{
		Status:     resp.Status,
		Data:       replyData(resp.Body),
		Headers:    flattenHeaders(resp.Header),
		AuthMethod: resp.AuthMethod,
	})
}

type uploadACAPRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	ACAPURL  string `json:"acapUrl"`
}

type uploadReply struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// handleUploadACAP fetches the .eap from its source, buffers it fully, and
// pushes it to the camera as a single multipart part through the upload
// client. Cameras install synchronously, so the push can take minutes.
func (s *Server) handleUploadACAP(w http.ResponseWriter, r *http.Request) {
	var req uploadACAPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "request body is not valid JSON")
		return
	}
	if req.URL == "" || req.ACAPURL == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing url or acapUrl")
		return
	}

	s.logger.Printf("connector: acap upload to %s user=%s source=%s",
		req.URL, logging.MaskUsername(req.Username), req.ACAPURL)

	eap, err := s.cameras.FetchACAP(r.Context(), req.ACAPURL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	boundary := vapix.NewBoundary()
	body := vapix.ACAPUploadBody(boundary, vapix.ACAPFileName(req.ACAPURL), eap)
	resp, err := s.cameras.DoUpload(r.Context(), &vapix.Request{
		URL:         req.URL,
		Method:      http.MethodPost,
		ContentType: vapix.MultipartContentType(boundary),
		Body:        body,
		Credentials: vapix.Credentials{Username: req.Username, Password: req.Password},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Printf("connector: acap upload to %s finished with %d (%d bytes sent)", req.URL, resp.Status, len(body))
	s.writeJSON(w, http.StatusOK, uploadReply{Status: resp.Status, Data: replyData(resp.Body)})
}

type uploadLicenseRequest struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	LicenseXML string `json:"licenseXML"`
}

type uploadLicenseReply struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// handleUploadLicense pushes signed license XML, unmodified, as a multipart
// part named license.xml. Cameras report installation failure inside an
// HTTP 200 body, so the reply is inspected for the inline error marker.
func (s *Server) handleUploadLicense(w http.ResponseWriter, r *http.Request) {
	var req uploadLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "request body is not valid JSON")
		return
	}
	if req.URL == "" || req.LicenseXML == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing url or licenseXML")
		return
	}

	s.logger.Printf("connector: license upload to %s user=%s license=%d bytes",
		req.URL, logging.MaskUsername(req.Username), len(req.LicenseXML))

	boundary := vapix.NewBoundary()
	resp, err := s.cameras.DoUpload(r.Context(), &vapix.Request{
		URL:         req.URL,
		Method:      http.MethodPost,
		ContentType: vapix.MultipartContentType(boundary),
		Body:        vapix.LicenseUploadBody(boundary, req.LicenseXML),
		Credentials: vapix.Credentials{Username: req.Username, Password: req.Password},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	reply := uploadLicenseReply{Status: resp.Status, Data: replyData(resp.Body)}
	if resp.Status == http.StatusOK && vapix.LicenseRejected(resp.Body) {
		s.logger.Printf("connector: camera %s rejected the license: %s", req.URL, resp.Body)
		reply.Error = "license-rejected"
		reply.Detail = "camera reported a license error"
	}
	s.writeJSON(w, http.StatusOK, reply)
}

type generateLicenseRequest struct {
	DeviceID   string `json:"deviceId"`
	LicenseKey string `json:"licenseKey"`
}

func (s *Server) handleGenerateLicense(w http.ResponseWriter, r *http.Request) {
	var req generateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "request body is not valid JSON")
		return
	}
	if req.DeviceID == "" || req.LicenseKey == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing deviceId or licenseKey")
		return
	}
	if s.signer == nil {
		s.writeErrorKind(w, http.StatusServiceUnavailable, KindLicenseUnavailable, "no signing key configured")
		return
	}

	licenseXML, err := s.signer.GenerateLicense(r.Context(), req.DeviceID, req.LicenseKey)
	if err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, err.Error())
		return
	}
	s.logger.Printf("connector: generated license for device %s", license.NormalizeDeviceID(req.DeviceID))
	s.writeJSON(w, http.StatusOK, map[string]string{"licenseXml": licenseXML})
}

// replyData wraps an upstream body for the JSON reply: passed through when
// it already is JSON, wrapped as {"text": ...} otherwise.
func replyData(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(map[string]string{"text": string(body)})
	if err != nil {
		return json.RawMessage("null")
	}
	return wrapped
}

func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
