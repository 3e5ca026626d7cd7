package server

import (
	"log/slog"
	"net/http"
	"path"
	"time"

	"nodestore/internal/auth"
)

// statusRecorder remembers the status code a handler sent.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LogRequest logs every request with its outcome, at a level chosen by the
// response status.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		attrs := []any{
			slog.String("remote", r.RemoteAddr),
			slog.Group("request",
				"method", r.Method,
				"path", r.URL.Path,
				"proto", r.Proto,
				"status", rec.status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000),
		}

		switch {
		case rec.status >= 500:
			slog.Error("Request", attrs...)
		case rec.status >= 400:
			slog.Warn("Request", attrs...)
		default:
			slog.Debug("Request", attrs...)
		}
	})
}

// RequireAuthentication rejects requests that a does not accept. Health
// checks always pass.
func RequireAuthentication(a auth.Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		ok, err := a.Authenticate(r.Context(), r)
		if err != nil {
			slog.Error("Authentication failed", "error", err)
			writeError(w, "InternalError", "authentication failed", r.URL.Path, http.StatusInternalServerError)
			return
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="nodestore"`)
			writeError(w, "AccessDenied", "Access Denied", r.URL.Path, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CleanPath collapses repeated slashes and drops a trailing slash before
// routing, so "/nodes//abc/" reaches the same handler as "/nodes/abc".
func CleanPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := path.Clean("/" + r.URL.Path); p != r.URL.Path {
			r.URL.Path = p
			r.URL.RawPath = ""
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns an http.Handler implementing the node API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("POST /nodes/_delete", s.handleDeleteMulti)
	mux.HandleFunc("POST /cleanup", s.handleCleanup)

	mux.HandleFunc("PUT /nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handlePut(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleGet(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleDelete(w, r, r.PathValue("id"))
	})

	var h http.Handler = mux
	if s.auth != nil {
		h = RequireAuthentication(s.auth, h)
	}
	return LogRequest(CleanPath(h))
}
