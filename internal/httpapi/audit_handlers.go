package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/audit"
)

type auditListResponse struct {
	Entries   []audit.Entry `json:"entries"`
	Total     int           `json:"total"`
	Page      int           `json:"page"`
	PageCount int           `json:"page_count"`
	Limit     int           `json:"limit"`
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "audit log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		ActorID:      q.Get("actor_id"),
		Action:       audit.Action(q.Get("action")),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}
	if filter.Action != "" && !audit.ValidAction(filter.Action) {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown action filter")
		return
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "from must be RFC 3339")
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "to must be RFC 3339")
		return
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter = filter.Normalize()

	entries, total, err := a.recorder.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "audit query failed")
		return
	}

	pageCount := (total + filter.Limit - 1) / filter.Limit
	writeJSON(w, http.StatusOK, auditListResponse{
		Entries:   entries,
		Total:     total,
		Page:      filter.Page,
		PageCount: pageCount,
		Limit:     filter.Limit,
	})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
