package connector

import "net/http"

// originGate enforces the request origin policy before any camera I/O. A
// request without an Origin header (curl, the loopback scan workers) is
// allowed only from loopback; a browser request must carry an origin on the
// allow-list and gets CORS headers echoing exactly that origin. Preflights
// answer 204 here and never reach a handler.
func (s *Server) originGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin == "" {
			if !isLoopback(r.RemoteAddr) {
				s.logger.Printf("connector: [%s] request without Origin from %s", KindOriginDenied, r.RemoteAddr)
				s.writeErrorKind(w, http.StatusForbidden, KindOriginDenied, "missing Origin from non-loopback source")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !s.originAllowed(origin) {
			s.logger.Printf("connector: [%s] rejected origin %s for %s %s", KindOriginDenied, origin, r.Method, r.URL.Path)
			s.writeErrorKind(w, http.StatusForbidden, KindOriginDenied, "origin not allowed")
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
