// Package server exposes mood detection over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/moodsync/platform/internal/errors"
	"github.com/moodsync/platform/internal/inference"
	"github.com/moodsync/platform/internal/metrics"
	"github.com/moodsync/platform/internal/mood"
	"github.com/moodsync/platform/internal/orchestrator"
	"github.com/moodsync/platform/internal/pipeline"
	"github.com/moodsync/platform/internal/trace"
)

// MoodService is the manager surface the handlers need.
type MoodService interface {
	Detect(ctx context.Context) (pipeline.Result, error)
	Select(ctx context.Context, label string) (orchestrator.Current, error)
	Current() (orchestrator.Current, bool)
	Events() (<-chan orchestrator.Event, func())
}

// HealthChecker reports upstream inference health.
type HealthChecker interface {
	Health(ctx context.Context) (inference.Health, error)
}

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// SelectRequest is the body of POST /api/mood/select.
type SelectRequest struct {
	Mood string `json:"mood" validate:"required,max=32"`
}

// EmotionsResponse lists the canonical emotions.
type EmotionsResponse struct {
	Emotions []mood.Emotion `json:"emotions"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string          `json:"status"`
	Inference InferenceStatus `json:"inference"`
}

// InferenceStatus describes the upstream service.
type InferenceStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"modelLoaded"`
	Error       string `json:"error,omitempty"`
}

// ErrorResponse wraps an error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	mood     MoodService
	upstream HealthChecker
	opts     Options
}

// New creates a new server.
func New(m MoodService, upstream HealthChecker, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = DefaultRateLimitRequests
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = DefaultRateLimitWindow
	}
	return &Server{mood: m, upstream: upstream, opts: opts}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(trace.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", trace.TraceIDKey, trace.SpanIDKey},
		ExposedHeaders: []string{trace.TraceIDKey},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/emotions", s.handleEmotions)
		r.Get("/mood", s.handleCurrent)
		r.Post("/mood/select", s.handleSelect)
		r.With(httprate.LimitByIP(s.opts.RateLimitRequests, s.opts.RateLimitWindow)).
			Post("/mood/detect", s.handleDetect)
	})
	return r
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	res, err := s.mood.Detect(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Signal)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "read request body"))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed request body"))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, r, err)
		return
	}

	cur, err := s.mood.Select(r.Context(), req.Mood)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur.Signal)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.mood.Current()
	if !ok {
		writeError(w, r, apperrors.New(apperrors.CodeNotFound, "no mood recorded yet"))
		return
	}
	writeJSON(w, http.StatusOK, cur.Signal)
}

func (s *Server) handleEmotions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, EmotionsResponse{Emotions: mood.Canonical()})
}

// handleHealth always answers 200: detection degrades rather than fails when
// the upstream is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	h, err := s.upstream.Health(r.Context())
	switch {
	case err != nil:
		resp.Status = "degraded"
		resp.Inference = InferenceStatus{Status: "unreachable", Error: err.Error()}
	default:
		resp.Inference = InferenceStatus{Status: h.Status, ModelLoaded: h.ModelLoaded}
		if !h.ModelLoaded {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.CORSOrigins),
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	events, unsubscribe := s.mood.Events()
	defer unsubscribe()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			log.Debug("websocket closed", "remote", r.RemoteAddr)
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt orchestrator.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, WSWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.CodeOf(err)
	msg := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		msg = appErr.Message
	}

	log := trace.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "code", code, "error", err)
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}
