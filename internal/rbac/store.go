package rbac

import "context"

// Store describes the persistence operations required by the role service
// and the authorization guard.
type Store interface {
	CreateRole(ctx context.Context, tenantID, name, description, color string) (Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]RoleWithUsers, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)

	// SyncGrants replaces all grants of a role in one atomic operation. A
	// failure midway must never leave a mixed old/new grant set.
	SyncGrants(ctx context.Context, roleID string, grants GrantSet) error
	GrantsForRole(ctx context.Context, roleID string) (GrantSet, error)

	CountUsers(ctx context.Context, roleID string) (int, error)

	// DeleteRole removes the role unconditionally. Callers must have
	// verified deletion eligibility first.
	DeleteRole(ctx context.Context, roleID string) error

	// ReassignUsers moves every user from one role to another as a single
	// atomic unit and reports how many users changed.
	ReassignUsers(ctx context.Context, fromRoleID, toRoleID string) (int, error)

	// UserGrant resolves the kind set the user's role holds for a module.
	// Users without a role, and modules without a grant row, yield the
	// empty set.
	UserGrant(ctx context.Context, userID, moduleID string) (KindSet, error)
}

// RoleUpdate carries partial role mutations. Nil fields are left untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
	Color       *string
}
