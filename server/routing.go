package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// routes builds the mux
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/video/create", s.withLimit(s.handlePipeline))
	mux.HandleFunc("/api/image/create", s.withLimit(s.handlePipeline))
	mux.HandleFunc("/api/video/status", s.handlePipeline)
	mux.HandleFunc("/api/image/status", s.handlePipeline)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /ws/jobs", s.handleJobFeed)

	// health and media stay open; everything else needs a token when any
	// are configured
	root := http.NewServeMux()
	root.Handle("GET /health", s.corsMiddleware(http.HandlerFunc(s.handleHealth)))
	if s.media != nil {
		root.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.FS(s.media))))
	}
	root.Handle("/", s.corsMiddleware(s.authMiddleware(mux)))
	return root
}

// checkOrigin validates an Origin header against the configured prefixes.
// Requests without an Origin are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		// an entry without a port matches any port on that host
		if allowed == "*" || origin == allowed || strings.HasPrefix(origin, allowed+":") {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APITokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			// browsers cannot set headers on websocket upgrades
			token = r.URL.Query().Get("token")
		}
		if !s.validToken(token) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, "token:"+tokenFingerprint(token))))
	})
}

func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range s.cfg.APITokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func tokenFingerprint(token string) string {
	if len(token) > 6 {
		return token[len(token)-6:]
	}
	return token
}

type clientKey struct{}

// clientID identifies the caller for rate limiting: the token when
// authenticated, else the remote IP
func clientID(r *http.Request) string {
	if id, ok := r.Context().Value(clientKey{}).(string); ok && id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) withLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientID(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many create requests")
			return
		}
		next(w, r)
	}
}
