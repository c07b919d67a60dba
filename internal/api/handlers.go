package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/participant-enrichment/internal/enrichment"
	"github.com/sells-group/participant-enrichment/internal/materialize"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/store"
)

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type syncRequest struct {
	Events []enrichment.CalendarEvent `json:"events"`
}

func (h *Handler) syncParticipants(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.svc.SyncParticipants(r.Context(), orgFrom(r), req.Events)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	page, err := h.svc.ListParticipants(r.Context(), store.ParticipantFilter{
		OrganizationID: orgFrom(r),
		MeetingID:      q.Get("meeting_id"),
		Email:          q.Get("email"),
		ContactID:      q.Get("contact_id"),
		Status:         model.EnrichmentStatus(q.Get("status")),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type enrichRequest struct {
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Sources     []model.Source `json:"sources,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
}

func (h *Handler) enqueueEnrichment(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	job, err := h.svc.EnqueueEnrichment(r.Context(), enrichment.EnrichRequest{
		ParticipantID:  chi.URLParam(r, "id"),
		OrganizationID: orgFrom(r),
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		Sources:        req.Sources,
		Priority:       req.Priority,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type linkRequest struct {
	ContactID string `json:"contact_id"`
}

func (h *Handler) linkParticipant(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.svc.LinkParticipantToContact(r.Context(), orgFrom(r), chi.URLParam(r, "id"), req.ContactID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) manualEnrich(w http.ResponseWriter, r *http.Request) {
	var data materialize.ManualData
	if err := decode(r, &data); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.svc.ManualEnrich(r.Context(), orgFrom(r), chi.URLParam(r, "id"), data)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type autoMatchRequest struct {
	LookbackDays int `json:"lookback_days,omitempty"`
}

func (h *Handler) enqueueAutoMatch(w http.ResponseWriter, r *http.Request) {
	var req autoMatchRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	sched, err := h.svc.EnqueueAutoMatch(r.Context(), orgFrom(r), req.LookbackDays)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sched)
}

func (h *Handler) removeAutoMatch(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.RemoveAutoMatch(r.Context(), orgFrom(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

type bulkRequest struct {
	ParticipantIDs []string     `json:"participant_ids"`
	Source         model.Source `json:"source,omitempty"`
	BatchSize      int          `json:"batch_size,omitempty"`
}

func (h *Handler) enqueueBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	job, err := h.svc.EnqueueBulkEnrichment(r.Context(), enrichment.BulkRequest{
		OrganizationID: orgFrom(r),
		ParticipantIDs: req.ParticipantIDs,
		Source:         req.Source,
		BatchSize:      req.BatchSize,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetQueueStats(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	sum, err := h.svc.Summary(r.Context(), orgFrom(r), days)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
