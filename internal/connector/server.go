// Package connector hosts the localhost HTTP bridge: the JSON endpoints the
// browser drives (/health, /proxy, the upload pair, scan control) and the
// policy around them (origin gate, CORS, credential-free logging). All
// camera I/O funnels through here so TLS pinning and authentication happen
// in exactly one place.
package connector

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/anava-ai/anava-connector/internal/config"
	"github.com/anava-ai/anava-connector/internal/license"
	"github.com/anava-ai/anava-connector/internal/metrics"
	"github.com/anava-ai/anava-connector/internal/scan"
	"github.com/anava-ai/anava-connector/internal/tokens"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

// Server wires the handlers to their collaborators. Constructed once at
// startup; everything it holds is safe for concurrent use.
type Server struct {
	cfg     config.Config
	logger  *log.Logger
	cameras *vapix.Client
	scans   *scan.Manager
	tokens  *tokens.Manager
	signer  *license.Signer // nil when no signing key is configured
	metrics *metrics.Collector

	upgrader websocket.Upgrader
}

// New builds the server. signer may be nil; /generate-license then reports
// license-unavailable.
func New(cfg config.Config, logger *log.Logger, cameras *vapix.Client, scans *scan.Manager,
	tokenMgr *tokens.Manager, signer *license.Signer, collector *metrics.Collector) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		cameras: cameras,
		scans:   scans,
		tokens:  tokenMgr,
		signer:  signer,
		metrics: collector,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return isLoopback(r.RemoteAddr)
			}
			return s.originAllowed(origin)
		},
	}
	return s
}

// Router assembles the chi router with the middleware stack. No global
// timeout middleware: the upload endpoints legitimately run for minutes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.originGate)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/proxy", s.handleProxy)
	r.Post("/upload-acap", s.handleUploadACAP)
	r.Post("/upload-license", s.handleUploadLicense)
	r.Post("/generate-license", s.handleGenerateLicense)

	r.Post("/scan-network", s.handleScanNetwork)
	r.Post("/cancel-scan", s.handleCancelScan)
	r.Get("/scan-status", s.handleScanStatus)
	r.Get("/scan-results", s.handleScanResults)

	return r
}

// responseWriter captures status and body size for the request log.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Hijack passes through to the underlying writer so WebSocket upgrades work
// on logged requests.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// requestLogger logs every request and its outcome. Bodies are logged by
// size only; credentials never reach the log (handlers log the masked user
// themselves where it matters).
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.RequestStarted()
			defer s.metrics.RequestFinished()
		}

		s.logger.Printf("connector: %s %s (%d bytes)", r.Method, r.URL.Path, r.ContentLength)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Printf("connector: %s %s -> %d (%d bytes)", r.Method, r.URL.Path, rw.status, rw.bytes)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.URL.Path, rw.status)
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("connector: failed to write response: %v", err)
	}
}

func (s *Server) writeErrorKind(w http.ResponseWriter, status int, kind, detail string) {
	s.writeJSON(w, status, errorBody{Error: kind, Detail: detail})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind, detail := httpStatusFor(err)
	s.writeErrorKind(w, status, kind, detail)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
