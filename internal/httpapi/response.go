package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/rbac"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleRoleError maps role-service failures onto HTTP statuses. Blocked
// deletions carry the assigned-user count so the caller can offer the
// reassignment workflow.
func handleRoleError(w http.ResponseWriter, err error) {
	if blocked, ok := rbac.AsHasAssignedUsers(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "role has assigned users",
			"role_id":    blocked.RoleID,
			"user_count": blocked.Count,
		})
		return
	}
	switch {
	case errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, rbac.ErrInvalidGrant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrNameConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrProtectedRole):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, rbac.ErrSameRole), errors.Is(err, rbac.ErrCrossTenant):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "role operation failed")
	}
}

func handleAuditError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidDateRange), errors.Is(err, audit.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "audit operation failed")
	}
}
