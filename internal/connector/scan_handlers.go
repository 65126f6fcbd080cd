package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anava-ai/anava-connector/internal/logging"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

const wsWriteTimeout = 10 * time.Second

type scanNetworkRequest struct {
	CIDR      string `json:"cidr"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Intensity string `json:"intensity"`
}

type scanNetworkReply struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	TotalIPs  int    `json:"totalIps"`
}

// handleScanNetwork starts a session and hands back the subscribe token that
// later admits exactly one /scan-results stream for it.
func (s *Server) handleScanNetwork(w http.ResponseWriter, r *http.Request) {
	var req scanNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "request body is not valid JSON")
		return
	}
	if req.CIDR == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing cidr")
		return
	}

	s.logger.Printf("connector: scan requested for %s user=%s intensity=%q",
		req.CIDR, logging.MaskUsername(req.Username), req.Intensity)

	// The session outlives this request, so it runs detached from the HTTP
	// request's context.
	session, err := s.scans.Start(context.Background(), req.CIDR,
		vapix.Credentials{Username: req.Username, Password: req.Password}, req.Intensity)
	if err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.tokens.GenerateSessionToken(session.ID)
	if err != nil {
		session.Cancel()
		s.writeErrorKind(w, http.StatusBadGateway, vapix.KindTransport, "failed to issue session token")
		return
	}

	s.writeJSON(w, http.StatusAccepted, scanNetworkReply{
		SessionID: session.ID,
		Token:     token,
		TotalIPs:  session.Total,
	})
}

type cancelScanRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	var req cancelScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "request body is not valid JSON")
		return
	}
	if req.SessionID == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing sessionId")
		return
	}
	if !s.scans.Cancel(req.SessionID) {
		s.writeErrorKind(w, http.StatusNotFound, KindParseError, "unknown session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing session parameter")
		return
	}
	session, ok := s.scans.Get(id)
	if !ok {
		s.writeErrorKind(w, http.StatusNotFound, KindParseError, "unknown session")
		return
	}
	s.writeJSON(w, http.StatusOK, session.Snapshot())
}

// handleScanResults streams a session's progress over WebSocket, in publish
// order, to the single caller holding the session token. The stream ends
// with the terminal event and a normal close.
func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	tokenStr := r.URL.Query().Get("token")
	if id == "" || tokenStr == "" {
		s.writeErrorKind(w, http.StatusBadRequest, KindParseError, "missing session or token parameter")
		return
	}
	if _, err := s.tokens.ValidateSessionToken(tokenStr, id); err != nil {
		s.logger.Printf("connector: rejected scan-results token for session %s: %v", id, err)
		s.writeErrorKind(w, http.StatusForbidden, KindOriginDenied, "token does not grant this session")
		return
	}
	session, ok := s.scans.Get(id)
	if !ok {
		s.writeErrorKind(w, http.StatusNotFound, KindParseError, "unknown session")
		return
	}
	events, err := session.Subscribe()
	if err != nil {
		s.writeErrorKind(w, http.StatusConflict, KindParseError, "session already has a subscriber")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Printf("connector: scan-results upgrade failed for %s: %v", id, err)
		return
	}
	defer conn.Close()
	s.logger.Printf("connector: scan-results subscriber attached to session %s", id)

	// Reader goroutine: the subscriber sends nothing meaningful, but the
	// read pump surfaces a disconnect so the scan can be released.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case p, open := <-events:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(p); err != nil {
				s.logger.Printf("connector: scan-results write failed for %s: %v", id, err)
				return
			}
		case <-clientGone:
			s.logger.Printf("connector: scan-results subscriber left session %s", id)
			return
		}
	}
}
