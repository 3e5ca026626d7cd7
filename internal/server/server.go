package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nodestore/internal/auth"
	"nodestore/internal/nodestore"
)

// DefaultMaxNodeSize bounds request bodies for PUT /nodes/{id}.
const DefaultMaxNodeSize = 64 << 20

// Nodes is the subset of *nodestore.Backend the HTTP service drives.
type Nodes interface {
	WriteTTL(ctx context.Context, id string, data []byte, ttl time.Duration) error
	Read(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	DeleteMulti(ctx context.Context, ids []string) error
	Cleanup(ctx context.Context, cutoff time.Time) error
}

// Server exposes a node store over HTTP.
type Server struct {
	nodes       Nodes
	auth        auth.Authenticator
	maxNodeSize int64
}

type Option func(*Server)

// WithAuth requires every request except health checks to pass a.
func WithAuth(a auth.Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithMaxNodeSize limits the size of a single node payload.
func WithMaxNodeSize(n int64) Option {
	return func(s *Server) {
		s.maxNodeSize = n
	}
}

// New returns a Server over nodes.
func New(nodes Nodes, opts ...Option) (*Server, error) {
	if nodes == nil {
		return nil, errors.New("server: node store must not be nil")
	}

	s := &Server{
		nodes:       nodes,
		maxNodeSize: DefaultMaxNodeSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.maxNodeSize <= 0 {
		return nil, fmt.Errorf("server: invalid max node size %d", s.maxNodeSize)
	}
	return s, nil
}

// APIError is the JSON body of every failed request.
type APIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Resource string `json:"resource"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

func writeError(w http.ResponseWriter, code, message, resource string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// writeBackendError maps backend errors onto HTTP statuses.
func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	resource := r.URL.Path

	switch {
	case errors.Is(err, nodestore.ErrNotFound):
		writeError(w, "NoSuchNode", "The specified node does not exist.", resource, http.StatusNotFound)
	case errors.Is(err, nodestore.ErrInconsistent):
		writeError(w, "Inconsistent", err.Error(), resource, http.StatusConflict)
	case errors.Is(err, context.Canceled):
		writeError(w, "RequestCanceled", "The request was canceled.", resource, 499)
	default:
		slog.Error("Node store failure", "method", r.Method, "path", resource, "error", err)
		writeError(w, "InternalError", "We encountered an internal error. Please try again.", resource, http.StatusInternalServerError)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, id string) {
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, "InvalidArgument", "ttl must be a non-negative duration", r.URL.Path, http.StatusBadRequest)
			return
		}
		ttl = d
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxNodeSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "EntityTooLarge", fmt.Sprintf("node payload exceeds %d bytes", s.maxNodeSize), r.URL.Path, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "IncompleteBody", "failed to read request body", r.URL.Path, http.StatusBadRequest)
		return
	}

	if err := s.nodes.WriteTTL(r.Context(), id, data, ttl); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	data, err := s.nodes.Read(r.Context(), id)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing node", "id", id, "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.nodes.Delete(r.Context(), id); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMulti(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxNodeSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "MalformedJSON", "request body must be {\"ids\": [...]}", r.URL.Path, http.StatusBadRequest)
		return
	}
	for _, id := range req.IDs {
		if strings.TrimSpace(id) == "" {
			writeError(w, "InvalidArgument", "node ids must not be empty", r.URL.Path, http.StatusBadRequest)
			return
		}
	}

	if err := s.nodes.DeleteMulti(r.Context(), req.IDs); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		writeError(w, "InvalidArgument", "the before parameter is required", r.URL.Path, http.StatusBadRequest)
		return
	}
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, "InvalidArgument", "before must be an RFC 3339 timestamp", r.URL.Path, http.StatusBadRequest)
		return
	}

	if err := s.nodes.Cleanup(r.Context(), cutoff); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}
