// Package api exposes the enrichment manager over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/enrichment"
	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/jobqueue"
	"github.com/sells-group/participant-enrichment/internal/materialize"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// OrgHeader carries the calling organization.
const OrgHeader = "X-Organization-ID"

// Service is the enrichment surface the handlers call.
type Service interface {
	EnqueueEnrichment(ctx context.Context, req enrichment.EnrichRequest) (*jobqueue.Job, error)
	EnqueueAutoMatch(ctx context.Context, orgID string, lookbackDays int) (*jobqueue.Schedule, error)
	RemoveAutoMatch(ctx context.Context, orgID string) (bool, error)
	EnqueueBulkEnrichment(ctx context.Context, req enrichment.BulkRequest) (*jobqueue.Job, error)
	GetQueueStats(ctx context.Context) (map[string]jobqueue.Stats, error)
	LinkParticipantToContact(ctx context.Context, orgID, participantID, contactID string) (*model.Participant, error)
	ManualEnrich(ctx context.Context, orgID, participantID string, data materialize.ManualData) (*materialize.Result, error)
	SyncParticipants(ctx context.Context, orgID string, events []enrichment.CalendarEvent) (*enrichment.SyncResult, error)
	ListParticipants(ctx context.Context, filter store.ParticipantFilter) (*enrichment.ParticipantPage, error)
	Summary(ctx context.Context, orgID string, days int) (*history.Summary, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	svc     Service
	health  Pinger
	metrics http.Handler
}

// NewHandler creates a Handler. metrics may be nil.
func NewHandler(svc Service, health Pinger, metrics http.Handler) *Handler {
	return &Handler{svc: svc, health: health, metrics: metrics}
}

// Router builds the chi router with every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", OrgHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireOrg)
		r.Post("/participants/sync", h.syncParticipants)
		r.Get("/participants", h.listParticipants)
		r.Post("/participants/{id}/enrich", h.enqueueEnrichment)
		r.Post("/participants/{id}/link", h.linkParticipant)
		r.Post("/participants/{id}/manual", h.manualEnrich)
		r.Post("/automatch", h.enqueueAutoMatch)
		r.Delete("/automatch", h.removeAutoMatch)
		r.Post("/bulk", h.enqueueBulk)
		r.Get("/summary", h.summary)
	})
	r.Get("/queues/stats", h.queueStats)
	return r
}

type orgKey struct{}

func requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := r.Header.Get(OrgHeader)
		if org == "" {
			writeError(w, http.StatusBadRequest, OrgHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), orgKey{}, org)))
	})
}

func orgFrom(r *http.Request) string {
	org, _ := r.Context().Value(orgKey{}).(string)
	return org
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, resilience.Invalid(key, "must be an integer")
	}
	return n, nil
}
