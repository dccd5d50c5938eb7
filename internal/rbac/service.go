package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
)

// Recorder is the slice of the audit log the role service emits into.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Event, error)
}

// Service implements the business operations on roles: create, update,
// permission sync, the deletion state machine, bulk delete and the
// user-reassignment workflow. Every mutation emits an audit event.
type Service struct {
	store    Store
	recorder Recorder
	log      *zap.Logger
}

// NewService constructs the role service.
func NewService(store Store, recorder Recorder, log *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	if recorder == nil {
		return nil, errors.New("rbac: audit recorder is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, recorder: recorder, log: log}, nil
}

// CreateRoleInput carries everything needed to create a custom role.
type CreateRoleInput struct {
	Name        string
	Description string
	Color       string
	Grants      GrantSet
}

// Create validates the grants against the catalog, creates the role and
// syncs its grants. The two writes are separate statements: if the grant
// sync fails the role row stays persisted with an empty grant set and the
// error is returned.
func (s *Service) Create(ctx context.Context, actor Principal, in CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	grants := in.Grants.Normalize()
	if err := ValidateGrants(grants); err != nil {
		return Role{}, err
	}

	role, err := s.store.CreateRole(ctx, actor.TenantID, name, strings.TrimSpace(in.Description), strings.TrimSpace(in.Color))
	if err != nil {
		return Role{}, err
	}
	if len(grants) > 0 {
		if err := s.store.SyncGrants(ctx, role.ID, grants); err != nil {
			return Role{}, err
		}
	}

	s.emit(ctx, actor, audit.ActionRoleCreated, role.ID, map[string]string{
		"role_name":  role.Name,
		"created_by": actor.UserID,
	})
	return role, nil
}

// UpdateRoleInput carries a partial role mutation plus the replacement grant
// set. A nil Grants leaves the current grants untouched.
type UpdateRoleInput struct {
	Name        *string
	Description *string
	Color       *string
	Grants      GrantSet
}

// Update mutates a custom role and replaces its grants wholesale. System
// roles are immutable.
func (s *Service) Update(ctx context.Context, actor Principal, roleID string, in UpdateRoleInput) (Role, error) {
	role, err := s.roleForActor(ctx, actor, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		return Role{}, ErrProtectedRole
	}
	roleID = role.ID

	upd := RoleUpdate{Description: in.Description, Color: in.Color}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}

	var grants GrantSet
	if in.Grants != nil {
		grants = in.Grants.Normalize()
		if err := ValidateGrants(grants); err != nil {
			return Role{}, err
		}
	}

	role, err = s.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return Role{}, err
	}
	if in.Grants != nil {
		if err := s.store.SyncGrants(ctx, roleID, grants); err != nil {
			return Role{}, err
		}
	}

	s.emit(ctx, actor, audit.ActionRoleUpdated, role.ID, map[string]string{
		"role_name":  role.Name,
		"updated_by": actor.UserID,
	})
	return role, nil
}

// Delete runs the deletion state machine: system roles are permanently
// blocked, roles with assigned users are blocked until remediated via
// ReassignUsers, anything else is deleted.
func (s *Service) Delete(ctx context.Context, actor Principal, roleID string) error {
	role, err := s.roleForActor(ctx, actor, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrProtectedRole
	}
	roleID = role.ID
	count, err := s.store.CountUsers(ctx, roleID)
	if err != nil {
		return err
	}
	if count > 0 {
		return &HasAssignedUsersError{RoleID: roleID, Count: count}
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}

	s.emit(ctx, actor, audit.ActionRoleDeleted, roleID, map[string]string{
		"role_name":  role.Name,
		"deleted_by": actor.UserID,
	})
	return nil
}

// Reason codes attached to per-role bulk-delete errors.
const (
	BulkReasonSystemRole       = "system_role"
	BulkReasonHasAssignedUsers = "has_assigned_users"
	BulkReasonNotFound         = "not_found"
)

// BulkDeleteError identifies one role the batch could not delete and why.
type BulkDeleteError struct {
	RoleID    string `json:"role_id"`
	RoleName  string `json:"role_name,omitempty"`
	Reason    string `json:"reason"`
	UserCount int    `json:"user_count,omitempty"`
}

// BulkDeleteResult reports exactly which roles were removed and which were
// skipped. The response is the ground truth: the batch is best-effort and
// deliberately not atomic across items.
type BulkDeleteResult struct {
	DeletedCount int               `json:"deleted_count"`
	Errors       []BulkDeleteError `json:"errors"`
}

// BulkDelete deletes the eligible subset of the requested roles. Each
// role's deletion is its own atomic unit; one blocked role never rolls back
// the others, and no blocked role is ever silently skipped.
func (s *Service) BulkDelete(ctx context.Context, actor Principal, roleIDs []string) (BulkDeleteResult, error) {
	var result BulkDeleteResult
	for _, id := range roleIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		role, err := s.roleForActor(ctx, actor, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				result.Errors = append(result.Errors, BulkDeleteError{RoleID: id, Reason: BulkReasonNotFound})
				continue
			}
			return result, err
		}
		if err := s.Delete(ctx, actor, id); err != nil {
			switch {
			case errors.Is(err, ErrProtectedRole):
				result.Errors = append(result.Errors, BulkDeleteError{
					RoleID: id, RoleName: role.Name, Reason: BulkReasonSystemRole,
				})
			default:
				if blocked, ok := AsHasAssignedUsers(err); ok {
					result.Errors = append(result.Errors, BulkDeleteError{
						RoleID: id, RoleName: role.Name, Reason: BulkReasonHasAssignedUsers, UserCount: blocked.Count,
					})
					continue
				}
				return result, err
			}
			continue
		}
		result.DeletedCount++
	}
	return result, nil
}

// ReassignUsers atomically moves every user from one role to another within
// the same tenant. On success the source role becomes deletable.
func (s *Service) ReassignUsers(ctx context.Context, actor Principal, fromRoleID, toRoleID string) (int, error) {
	fromRoleID = strings.TrimSpace(fromRoleID)
	toRoleID = strings.TrimSpace(toRoleID)
	if fromRoleID == "" || toRoleID == "" {
		return 0, fmt.Errorf("%w: source and target role ids are required", ErrInvalidInput)
	}
	if fromRoleID == toRoleID {
		return 0, ErrSameRole
	}
	from, err := s.roleForActor(ctx, actor, fromRoleID)
	if err != nil {
		return 0, err
	}
	to, err := s.store.GetRole(ctx, toRoleID)
	if err != nil {
		return 0, err
	}
	if to.TenantID != actor.TenantID {
		return 0, ErrCrossTenant
	}

	moved, err := s.store.ReassignUsers(ctx, fromRoleID, toRoleID)
	if err != nil {
		return 0, err
	}

	s.emit(ctx, actor, audit.ActionUsersReassigned, fromRoleID, map[string]string{
		"from_role":        from.Name,
		"to_role":          to.Name,
		"reassigned_count": strconv.Itoa(moved),
	})
	return moved, nil
}

// CloneGrants returns a detached copy of the source role's current grants.
// There is no live inheritance: edits to either role after the copy never
// propagate to the other.
func (s *Service) CloneGrants(ctx context.Context, actor Principal, sourceRoleID string) (GrantSet, error) {
	source, err := s.roleForActor(ctx, actor, sourceRoleID)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.GrantsForRole(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	return grants.Clone(), nil
}

// Grants returns the current grant set of a role in the actor's tenant.
func (s *Service) Grants(ctx context.Context, actor Principal, roleID string) (GrantSet, error) {
	role, err := s.roleForActor(ctx, actor, roleID)
	if err != nil {
		return nil, err
	}
	return s.store.GrantsForRole(ctx, role.ID)
}

// List returns the tenant's roles with assigned-user counts.
func (s *Service) List(ctx context.Context, tenantID string) ([]RoleWithUsers, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.ListRoles(ctx, tenantID)
}

// roleForActor loads a role by id and hides roles belonging to other
// tenants behind ErrNotFound.
func (s *Service) roleForActor(ctx context.Context, actor Principal, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.TenantID != actor.TenantID {
		return Role{}, ErrNotFound
	}
	return role, nil
}

// emit records an audit event for a completed mutation. The mutation itself
// has already been committed, so a failed write is logged rather than
// surfaced to the caller.
func (s *Service) emit(ctx context.Context, actor Principal, action, roleID string, details map[string]string) {
	_, err := s.recorder.Record(ctx, audit.Entry{
		TenantID:    actor.TenantID,
		ActorUserID: actor.UserID,
		Action:      action,
		EntityType:  "role",
		EntityID:    roleID,
		Details:     details,
	})
	if err != nil {
		s.log.Error("audit record failed",
			zap.String("action", action),
			zap.String("role_id", roleID),
			zap.Error(err),
		)
	}
}
