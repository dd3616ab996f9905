// Package server exposes the service over HTTP with JSON bodies.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vidgrab/internal/contentref"
	"vidgrab/internal/media"
	"vidgrab/internal/progress"
	"vidgrab/internal/resolve"
	"vidgrab/internal/service"
)

const (
	defaultTimeout = 2 * time.Minute
	maxTimeout     = 10 * time.Minute
	maxBody        = 64 << 10

	// RetryAfter is the hint sent with rate-limited responses, in seconds.
	RetryAfter = 60
)

// Service is the part of service.Service the handlers use.
type Service interface {
	Info(ctx context.Context, raw string, force bool) (*media.VideoMetadata, error)
	DirectURL(ctx context.Context, raw, selector string, ceiling int) (*media.ResolvedURL, error)
	StartDownload(req service.DownloadRequest) (string, error)
	Cancel(id string) bool
	File(id string) (string, error)
	Tracker() *progress.Tracker
}

// Server serves the JSON API.
type Server struct {
	bind   string
	svc    Service
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New builds a server listening on bind once started.
func New(bind string, svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{bind: bind, svc: svc, logger: logger}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/url", s.handleURL)
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("GET /api/progress/{id}", s.handleProgress)
	mux.HandleFunc("DELETE /api/progress/{id}", s.handleProgressDelete)
	mux.HandleFunc("GET /api/file/{id}", s.handleFile)
	return s.logRequests(mux)
}

// Run listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(listener) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Addr reports the bound address once Run is listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type infoRequest struct {
	URL     string `json:"url"`
	Force   bool   `json:"force"`
	Timeout int    `json:"timeout"` // seconds
}

type downloadRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Audio   bool   `json:"audio"`
	Ceiling int    `json:"ceiling"`
}

type downloadResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := withTimeout(r.Context(), req.Timeout)
	defer cancel()

	md, err := s.svc.Info(ctx, req.URL, req.Force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ceiling, err := optionalInt(q.Get("ceiling"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid ceiling")
		return
	}
	timeout, err := optionalInt(q.Get("timeout"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid timeout")
		return
	}
	ctx, cancel := withTimeout(r.Context(), timeout)
	defer cancel()

	ru, err := s.svc.DirectURL(ctx, q.Get("url"), q.Get("format"), ceiling)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ru)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.svc.StartDownload(service.DownloadRequest{
		URL:     req.URL,
		Format:  req.Format,
		Audio:   req.Audio,
		Ceiling: req.Ceiling,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/progress/"+id)
	s.writeJSON(w, http.StatusAccepted, downloadResponse{ID: id})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.svc.Tracker().Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_found", "unknown operation")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleProgressDelete acknowledges a finished operation, or cancels one
// still in flight.
func (s *Server) handleProgressDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	acked, err := s.svc.Tracker().Ack(id)
	if errors.Is(err, progress.ErrUnknown) {
		s.writeError(w, http.StatusNotFound, "not_found", "unknown operation")
		return
	}
	if !acked {
		s.svc.Cancel(id)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.svc.File(r.PathValue("id"))
	switch {
	case errors.Is(err, progress.ErrUnknown):
		s.writeError(w, http.StatusNotFound, "not_found", "unknown operation")
		return
	case errors.Is(err, service.ErrNotReady):
		s.writeError(w, http.StatusConflict, "not_ready", err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusGone, "gone", "file no longer available")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		restricted *resolve.RestrictedError
		notFound   *resolve.NotFoundError
		exhausted  *resolve.ExhaustedError
	)
	switch {
	case errors.Is(err, contentref.ErrInvalidReference):
		s.writeError(w, http.StatusBadRequest, "invalid_reference", err.Error())
	case errors.Is(err, service.ErrInvalidFormat):
		s.writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
	case errors.Is(err, service.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case errors.As(err, &restricted):
		s.writeError(w, http.StatusForbidden, "restricted", "content is restricted: "+restricted.Err.Error())
	case errors.As(err, &notFound):
		s.writeError(w, http.StatusNotFound, "not_found", "content not found")
	case errors.As(err, &exhausted):
		reason := exhausted.Reason()
		if reason == resolve.ReasonRateLimited {
			w.Header().Set("Retry-After", strconv.Itoa(RetryAfter))
			s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:      "upstream is rate limiting requests, try again later",
				Kind:       string(reason),
				RetryAfter: RetryAfter,
			})
			return
		}
		msg := "all extraction strategies failed"
		if exhausted.Format != "" {
			msg += " for format " + strconv.Quote(exhausted.Format)
		}
		s.writeError(w, http.StatusServiceUnavailable, string(reason), msg)
	default:
		s.logger.Error("unhandled error", slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func withTimeout(ctx context.Context, seconds int) (context.Context, context.CancelFunc) {
	d := defaultTimeout
	if seconds > 0 {
		d = min(time.Duration(seconds)*time.Second, maxTimeout)
	}
	return context.WithTimeout(ctx, d)
}

func optionalInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
