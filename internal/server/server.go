// Package server exposes the HTTP surface of the translation pipeline:
// submission, status reads, history, poll and stream delivery.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lingorelay/lingorelay/internal/authn"
	"github.com/lingorelay/lingorelay/internal/build"
	"github.com/lingorelay/lingorelay/internal/bus"
	"github.com/lingorelay/lingorelay/internal/cache"
	"github.com/lingorelay/lingorelay/internal/feedback"
	serverconfig "github.com/lingorelay/lingorelay/internal/server/config"
	"github.com/lingorelay/lingorelay/pkg/logger"
	"github.com/lingorelay/lingorelay/pkg/middleware/requestid"
	"github.com/lingorelay/lingorelay/pkg/storage"
)

var tracer = otel.Tracer("lingorelay/internal/server")

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "http_requests_total",
	Help:      "HTTP requests served, by route and status code.",
}, []string{"route", "code"})

const defaultHistoryLimit = 50

// Server wires the delivery endpoints over the pipeline components. It does
// not own them; closing the server leaves the store, bus and cache running.
type Server struct {
	store         storage.StatusStore
	bus           bus.Bus
	cache         cache.ContentCache
	buffer        *feedback.Buffer
	streamer      *feedback.Streamer
	authenticator authn.Authenticator
	logger        logger.Logger
	maxTextLength int
	cacheTTL      time.Duration
	corsOrigins   []string
	corsHeaders   []string
}

type Opt func(*Server)

func WithLogger(l logger.Logger) Opt {
	return func(s *Server) {
		s.logger = l
	}
}

func WithAuthenticator(a authn.Authenticator) Opt {
	return func(s *Server) {
		s.authenticator = a
	}
}

func WithMaxTextLength(n int) Opt {
	return func(s *Server) {
		if n > 0 {
			s.maxTextLength = n
		}
	}
}

func WithCacheTTL(ttl time.Duration) Opt {
	return func(s *Server) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithCORS(origins, headers []string) Opt {
	return func(s *Server) {
		s.corsOrigins = origins
		s.corsHeaders = headers
	}
}

func New(store storage.StatusStore, b bus.Bus, contentCache cache.ContentCache, buffer *feedback.Buffer, streamer *feedback.Streamer, opts ...Opt) *Server {
	s := &Server{
		store:         store,
		bus:           b,
		cache:         contentCache,
		buffer:        buffer,
		streamer:      streamer,
		authenticator: authn.NoopAuthenticator{},
		logger:        logger.NewNoopLogger(),
		maxTextLength: serverconfig.DefaultMaxTextLengthInBytes,
		cacheTTL:      serverconfig.DefaultCacheTTL,
		corsOrigins:   []string{"*"},
		corsHeaders:   []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /translate", s.instrument("translate", s.handleTranslate))
	mux.HandleFunc("GET /translation/{id}", s.instrument("translation_status", s.handleStatus))
	mux.HandleFunc("GET /translations/history", s.instrument("history", s.handleHistory))
	mux.HandleFunc("GET /feedback/poll", s.instrument("poll", s.handlePoll))
	mux.HandleFunc("GET /feedback/stream/{id}", s.instrument("stream", s.handleStream))
	mux.HandleFunc("GET /stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("GET /healthz", s.instrument("healthz", s.handleHealthz))

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedHeaders: s.corsHeaders,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return requestid.NewMiddleware()(c.Handler(mux))
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_language"`
	TargetLang string `json:"target_language"`
}

type translateResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	TranslatedText string `json:"translated_text,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
}

type statusResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Text           string    `json:"text"`
	TranslatedText string    `json:"translated_text,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	SourceLang     string    `json:"source_language"`
	TargetLang     string    `json:"target_language"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	ctx, span := tracer.Start(r.Context(), "server.Translate")
	defer span.End()

	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.Text) > s.maxTextLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds maximum length of %d bytes", s.maxTextLength))
		return
	}
	if req.SourceLang == "" || req.TargetLang == "" {
		writeError(w, http.StatusBadRequest, "source_language and target_language are required")
		return
	}

	id := uuid.NewString()

	// A memoized translation resolves synchronously without touching the
	// bus at all.
	if translated, hit := s.cache.Get(cache.Key(req.Text, req.SourceLang, req.TargetLang)); hit {
		record := &storage.StatusRecord{
			ID:             id,
			Status:         storage.StatusCompleted,
			Text:           req.Text,
			TranslatedText: translated,
			SubmitterID:    claims.Subject,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
		}
		if err := s.store.Create(ctx, record); err != nil {
			s.internalError(w, "persisting cached translation", err)
			return
		}
		writeJSON(w, http.StatusOK, translateResponse{
			ID:             id,
			Status:         string(storage.StatusCompleted),
			TranslatedText: translated,
			Cached:         true,
		})
		return
	}

	record := &storage.StatusRecord{
		ID:          id,
		Status:      storage.StatusPending,
		Text:        req.Text,
		SubmitterID: claims.Subject,
		SourceLang:  req.SourceLang,
		TargetLang:  req.TargetLang,
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.internalError(w, "persisting translation request", err)
		return
	}

	payload, err := (&bus.RequestMessage{
		TranslationID: id,
		Text:          req.Text,
		SourceLang:    req.SourceLang,
		TargetLang:    req.TargetLang,
		SubmitterID:   claims.Subject,
		SubmittedAt:   time.Now().UTC(),
	}).Marshal()
	if err != nil {
		s.internalError(w, "encoding request message", err)
		return
	}

	if err := s.bus.Publish(ctx, bus.ChannelRequests, payload); err != nil {
		s.logger.Error("publishing translation request failed",
			zap.String("translation_id", id),
			zap.Error(err),
		)
		// The record stays pending so a redelivery by the client can be
		// correlated, but the caller must know nothing is in flight.
		writeError(w, http.StatusServiceUnavailable, "translation service temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, translateResponse{
		ID:     id,
		Status: string(storage.StatusPending),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	record, ok := s.ownedRecord(w, r, claims)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(record))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	offset := queryInt(r, "offset", 0)

	records, err := s.store.ListBySubmitter(r.Context(), claims.Subject, limit, offset)
	if err != nil {
		s.internalError(w, "listing translation history", err)
		return
	}

	out := make([]statusResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toStatusResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"translations": out,
		"count":        len(out),
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	events := s.buffer.Drain(claims.Subject)
	results := make([]map[string]string, 0, len(events))
	for _, event := range events {
		results = append(results, map[string]string{
			"translation_id":  event.TranslationID,
			"translated_text": event.TranslatedText,
			"source_language": event.SourceLang,
			"target_language": event.TargetLang,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	record, ok := s.ownedRecord(w, r, claims)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := s.streamer.Stream(r.Context(), w, claims.Subject, record.ID); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("stream ended with error",
			zap.String("translation_id", record.ID),
			zap.Error(err),
		)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, "computing translation stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        stats.Total,
		"completed":    stats.Completed,
		"failed":       stats.Failed,
		"success_rate": stats.SuccessRate(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": build.Version,
	})
}

// ownedRecord loads the path's translation record and enforces that the
// caller submitted it. Absence and foreign ownership are reported
// distinctly, as 404 and 403.
func (s *Server) ownedRecord(w http.ResponseWriter, r *http.Request, claims *authn.Claims) (*storage.StatusRecord, bool) {
	id := r.PathValue("id")
	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "translation not found")
			return nil, false
		}
		s.internalError(w, "loading translation record", err)
		return nil, false
	}
	if record.SubmitterID != claims.Subject {
		writeError(w, http.StatusForbidden, "translation belongs to another submitter")
		return nil, false
	}
	return record, true
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*authn.Claims, bool) {
	claims, err := s.authenticator.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	return claims, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)
		requestsTotal.WithLabelValues(route, strconv.Itoa(sw.code)).Inc()
	}
}

// statusWriter records the response code while passing Flush through so
// streaming handlers keep working.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func toStatusResponse(record *storage.StatusRecord) statusResponse {
	return statusResponse{
		ID:             record.ID,
		Status:         string(record.Status),
		Text:           record.Text,
		TranslatedText: record.TranslatedText,
		ErrorMessage:   record.ErrorMessage,
		SourceLang:     record.SourceLang,
		TargetLang:     record.TargetLang,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
