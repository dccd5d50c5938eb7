package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/rbac"
)

// parseAuditFilter reads the shared query parameters of the audit endpoints.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorUserID: q.Get("actor_user_id"),
		Action:      q.Get("action"),
		EntityType:  q.Get("entity_type"),
		Search:      q.Get("search"),
	}
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("%w: invalid start timestamp", audit.ErrInvalidInput)
		}
		f.Start = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("%w: invalid end timestamp", audit.ErrInvalidInput)
		}
		f.End = &t
	}
	return f, nil
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", audit.ErrInvalidInput, key)
	}
	return n, nil
}

func (a *API) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "audit_logs", rbac.KindView)
	if !ok {
		return
	}
	f, err := parseAuditFilter(r)
	if err != nil {
		handleAuditError(w, err)
		return
	}
	page, err := intQuery(r, "page", 1)
	if err != nil {
		handleAuditError(w, err)
		return
	}
	pageSize, err := intQuery(r, "page_size", 0)
	if err != nil {
		handleAuditError(w, err)
		return
	}
	result, err := a.auditlog.Query(r.Context(), principal.TenantID, f, page, pageSize)
	if err != nil {
		handleAuditError(w, err)
		return
	}
	if result.Items == nil {
		result.Items = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleExportAudit(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "audit_logs", rbac.KindView)
	if !ok {
		return
	}
	f, err := parseAuditFilter(r)
	if err != nil {
		handleAuditError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := a.auditlog.Export(r.Context(), principal.TenantID, f, &buf); err != nil {
		handleAuditError(w, err)
		return
	}

	if _, err := a.auditlog.Record(r.Context(), audit.Entry{
		TenantID:    principal.TenantID,
		ActorUserID: principal.UserID,
		Action:      audit.ActionAuditExported,
		EntityType:  "audit_log",
	}); err != nil {
		a.log.Error("record export event failed", zap.Error(err))
	}

	filename := fmt.Sprintf("audit-log-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "audit_logs", rbac.KindView)
	if !ok {
		return
	}
	window, err := intQuery(r, "window_days", 30)
	if err != nil {
		handleAuditError(w, err)
		return
	}
	stats, err := a.auditlog.Statistics(r.Context(), principal.TenantID, window)
	if err != nil {
		handleAuditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

// handleAuditCleanup purges events past retention. Without an explicit
// retention_days it applies the tenant's configured policy.
func (a *API) handleAuditCleanup(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "audit_logs", rbac.KindDelete)
	if !ok {
		return
	}
	var req cleanupRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var (
		purged int64
		err    error
	)
	if req.RetentionDays > 0 {
		purged, err = a.auditlog.Cleanup(r.Context(), principal.TenantID, req.RetentionDays)
	} else {
		purged, err = a.auditlog.Sweep(r.Context(), principal.TenantID)
	}
	if err != nil {
		handleAuditError(w, err)
		return
	}
	obs.ObserveAuditPurge(purged)

	if _, err := a.auditlog.Record(r.Context(), audit.Entry{
		TenantID:    principal.TenantID,
		ActorUserID: principal.UserID,
		Action:      audit.ActionAuditCleanup,
		EntityType:  "audit_log",
		Details:     map[string]string{"purged_count": strconv.FormatInt(purged, 10)},
	}); err != nil {
		a.log.Error("record cleanup event failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{"purged_count": purged})
}
