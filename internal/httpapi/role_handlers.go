package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/rbac"
)

func (a *API) handleModules(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, "roles", rbac.KindView); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": rbac.Modules()})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindView)
	if !ok {
		return
	}
	roles, err := a.roles.List(r.Context(), principal.TenantID)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	if roles == nil {
		roles = []rbac.RoleWithUsers{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type createRoleRequest struct {
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	Color           string        `json:"color"`
	Grants          grantsPayload `json:"grants"`
	CloneFromRoleID string        `json:"clone_from_role_id"`
}

// grantsPayload is the wire shape of a grant set: module id to kind list.
type grantsPayload map[string][]string

func (p grantsPayload) toGrantSet() (rbac.GrantSet, error) {
	if p == nil {
		return nil, nil
	}
	grants := rbac.GrantSet{}
	for module, kinds := range p {
		set := rbac.KindSet{}
		for _, raw := range kinds {
			kind, err := rbac.ParseKind(raw)
			if err != nil {
				return nil, err
			}
			set = set.With(kind)
		}
		grants[module] = set
	}
	return grants, nil
}

func grantsToPayload(grants rbac.GrantSet) grantsPayload {
	out := grantsPayload{}
	for module, set := range grants {
		if set.Empty() {
			continue
		}
		kinds := set.Kinds()
		names := make([]string, 0, len(kinds))
		for _, k := range kinds {
			names = append(names, string(k))
		}
		out[module] = names
	}
	return out
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindCreate)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	grants, err := req.Grants.toGrantSet()
	if err != nil {
		handleRoleError(w, err)
		return
	}
	if req.CloneFromRoleID != "" {
		if grants != nil {
			writeError(w, http.StatusBadRequest, "grants and clone_from_role_id are mutually exclusive")
			return
		}
		grants, err = a.roles.CloneGrants(r.Context(), principal, req.CloneFromRoleID)
		if err != nil {
			handleRoleError(w, err)
			return
		}
	}

	role, err := a.roles.Create(r.Context(), principal, rbac.CreateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Grants:      grants,
	})
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

type updateRoleRequest struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Color       *string       `json:"color"`
	Grants      grantsPayload `json:"grants"`
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindEdit)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	grants, err := req.Grants.toGrantSet()
	if err != nil {
		handleRoleError(w, err)
		return
	}
	role, err := a.roles.Update(r.Context(), principal, chi.URLParam(r, "roleID"), rbac.UpdateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Grants:      grants,
	})
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindDelete)
	if !ok {
		return
	}
	if err := a.roles.Delete(r.Context(), principal, chi.URLParam(r, "roleID")); err != nil {
		handleRoleError(w, err)
		return
	}
	obs.ObserveRoleDeleted()
	w.WriteHeader(http.StatusNoContent)
}

type bulkDeleteRequest struct {
	RoleIDs []string `json:"role_ids"`
}

func (a *API) handleBulkDeleteRoles(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindDelete)
	if !ok {
		return
	}
	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.RoleIDs) == 0 {
		writeError(w, http.StatusBadRequest, "role_ids is required")
		return
	}
	result, err := a.roles.BulkDelete(r.Context(), principal, req.RoleIDs)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	for i := 0; i < result.DeletedCount; i++ {
		obs.ObserveRoleDeleted()
	}
	if result.Errors == nil {
		result.Errors = []rbac.BulkDeleteError{}
	}
	writeJSON(w, http.StatusOK, result)
}

type reassignUsersRequest struct {
	ToRoleID string `json:"to_role_id"`
}

func (a *API) handleReassignUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindEdit)
	if !ok {
		return
	}
	var req reassignUsersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	moved, err := a.roles.ReassignUsers(r.Context(), principal, chi.URLParam(r, "roleID"), req.ToRoleID)
	if err != nil {
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reassigned_count": moved})
}

func (a *API) handleRoleGrants(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, "roles", rbac.KindView)
	if !ok {
		return
	}
	grants, err := a.roles.Grants(r.Context(), principal, chi.URLParam(r, "roleID"))
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		handleRoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grantsToPayload(grants)})
}
