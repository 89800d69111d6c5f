// Package server exposes a narration [Generator] over HTTP.
//
// Routes:
//
//	POST /v1/audio           render a script, returns the generation result
//	GET  /v1/audio/{name}    metadata of a generated file
//	GET  /v1/audio/{name}/content  the file itself
//	GET  /v1/voices          voice catalog of the active provider (?gender=&locale=&tag=&name=)
//	POST /v1/statistics      text statistics
//	GET  /v1/languages       supported languages and current settings
//
// Health probes and /metrics are mounted alongside when configured.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/mangavoice/internal/health"
	"github.com/MrWong99/mangavoice/internal/narration"
	"github.com/MrWong99/mangavoice/internal/observe"
)

// maxBodyBytes caps request bodies; scripts are plain text.
const maxBodyBytes = 1 << 20

// Generator is the subset of [narration.Generator] the server needs.
type Generator interface {
	Generate(ctx context.Context, script narration.Script, opts narration.Options) (*narration.Result, error)
	GetAvailableVoices(ctx context.Context) (narration.VoiceCatalog, error)
	GetTTSStatistics(text string) narration.Statistics
	GetAudioInfo(path string) (narration.AudioInfo, error)
	OutputDirectory() string
	Settings() narration.Settings
}

// Config configures the listener.
type Config struct {
	// Addr is the TCP listen address. Default ":8080".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Option customises a [Server].
type Option func(*Server)

// WithMetrics instruments every request with m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// Server is the HTTP front end.
type Server struct {
	gen            Generator
	cfg            Config
	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
	handler        http.Handler
}

// New builds a Server for gen.
func New(gen Generator, cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{gen: gen, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/audio", s.handleGenerate)
	mux.HandleFunc("GET /v1/audio/{name}", s.handleAudioInfo)
	mux.HandleFunc("GET /v1/audio/{name}/content", s.handleAudioContent)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("POST /v1/statistics", s.handleStatistics)
	mux.HandleFunc("GET /v1/languages", s.handleLanguages)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on cfg.Addr and serves until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		tls := s.cfg.CertFile != "" && s.cfg.KeyFile != ""
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls)
		if tls {
			errCh <- srv.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	slog.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// ── handlers ─────────────────────────────────────────────────────────────────

type generateRequest struct {
	Script   narration.Script `json:"script"`
	Language string           `json:"language,omitempty"`
	Rate     int              `json:"rate,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rate < 0 {
		writeError(w, http.StatusBadRequest, "rate must not be negative")
		return
	}
	res, err := s.gen.Generate(r.Context(), req.Script, narration.Options{
		Language: req.Language,
		Rate:     req.Rate,
	})
	if err != nil {
		writeNarrationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, generateResponse{Result: res, Name: filepath.Base(res.Path)})
}

type generateResponse struct {
	*narration.Result
	Name string `json:"name"`
}

// audioPath resolves the {name} path value inside the output directory.
// Only plain file names are accepted.
func (s *Server) audioPath(r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return filepath.Join(s.gen.OutputDirectory(), name), true
}

func (s *Server) handleAudioInfo(w http.ResponseWriter, r *http.Request) {
	path, ok := s.audioPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	info, err := s.gen.GetAudioInfo(path)
	if err != nil {
		writeNarrationError(w, r, err)
		return
	}
	info.Path = filepath.Base(info.Path)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAudioContent(w http.ResponseWriter, r *http.Request) {
	path, ok := s.audioPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if _, err := s.gen.GetAudioInfo(path); err != nil {
		writeNarrationError(w, r, err)
		return
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		w.Header().Set("Content-Type", "audio/wav")
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.gen.GetAvailableVoices(r.Context())
	if err != nil {
		writeNarrationError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := narration.VoiceFilter{
		Gender: q.Get("gender"),
		Locale: q.Get("locale"),
		Tags:   q["tag"],
	}
	catalog.Voices = narration.FilterVoiceModels(catalog.Voices, filter)
	catalog.Voices = narration.SearchVoices(catalog.Voices, q.Get("name"))
	catalog.Count = len(catalog.Voices)
	writeJSON(w, http.StatusOK, catalog)
}

type statisticsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	var req statisticsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.gen.GetTTSStatistics(req.Text))
}

type languagesResponse struct {
	Current   narration.Settings   `json:"current"`
	Languages []narration.Language `json:"languages"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{
		Current:   s.gen.Settings(),
		Languages: narration.Languages(),
	})
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps narration errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, narration.ErrEmptyScript):
		return http.StatusBadRequest
	case errors.Is(err, narration.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, narration.ErrSynthesisFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeNarrationError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
