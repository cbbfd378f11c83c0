// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vodub/vodub/internal/log"
)

var (
	trustedIPNets     []*net.IPNet
	trustedIPNetsOnce sync.Once
)

// setTrustedProxies configures the CIDRs whose X-Forwarded-For headers
// are honored. First call wins; the set is fixed for the process.
func setTrustedProxies(cidrs []string) {
	trustedIPNetsOnce.Do(func() {
		for _, c := range cidrs {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ipnet, err := net.ParseCIDR(c); err == nil {
				trustedIPNets = append(trustedIPNets, ipnet)
			}
		}
	})
}

func remoteIsTrusted(remote string) bool {
	if len(trustedIPNets) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range trustedIPNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP determines the originating IP. Forwarding headers are only
// believed when the direct peer is a trusted proxy.
func clientIP(r *http.Request) string {
	if remoteIsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// rateKey keys the limiter by originating client IP.
func rateKey(r *http.Request) (string, error) {
	return clientIP(r), nil
}

// rateLimited builds the 429 handler with a Retry-After hint.
func rateLimited(window time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}
}

// recoverer converts handler panics into 500s instead of dropped
// connections.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				lg := log.WithComponent("api")
				lg.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID attaches a correlation id to the context and echoes it in
// the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// securityHeaders sets the baseline response hardening headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests for the allowed origins.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[strings.TrimRight(origin, "/")] {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAPIKey gates the API behind the X-API-Key header. Comparison
// is constant time per configured key.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-API-Key")
		if presented == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		for _, key := range s.cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Warn().
			Str("ip", clientIP(r)).
			Msg("rejected request with invalid API key")
		writeError(w, http.StatusUnauthorized, "invalid API key")
	})
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("elapsed", time.Since(start)).
			Str("ip", clientIP(r)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
