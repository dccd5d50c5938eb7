package rbac

import "time"

// Role is a tenant-scoped bundle of permission grants. System roles are
// seeded at tenant creation and can be neither renamed nor deleted.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleWithUsers pairs a role with its assigned-user count for listings and
// deletion-eligibility checks.
type RoleWithUsers struct {
	Role
	UserCount int `json:"user_count"`
}

// Kind is one of the four permission kinds granted per module.
type Kind string

const (
	KindView   Kind = "view"
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

// Kinds returns the closed enumeration in canonical order.
func Kinds() []Kind {
	return []Kind{KindView, KindCreate, KindEdit, KindDelete}
}

// KindSet is the fixed-shape set of kinds a role holds for one module.
type KindSet struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// KindSetOf builds a set from individual kinds.
func KindSetOf(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// With returns a copy of the set with the given kind enabled.
func (s KindSet) With(k Kind) KindSet {
	switch k {
	case KindView:
		s.View = true
	case KindCreate:
		s.Create = true
	case KindEdit:
		s.Edit = true
	case KindDelete:
		s.Delete = true
	}
	return s
}

// Has reports whether the kind is a member of the set.
func (s KindSet) Has(k Kind) bool {
	switch k {
	case KindView:
		return s.View
	case KindCreate:
		return s.Create
	case KindEdit:
		return s.Edit
	case KindDelete:
		return s.Delete
	default:
		return false
	}
}

// Empty reports whether no kind is enabled.
func (s KindSet) Empty() bool {
	return !s.View && !s.Create && !s.Edit && !s.Delete
}

// Kinds lists enabled kinds in canonical order.
func (s KindSet) Kinds() []Kind {
	out := make([]Kind, 0, 4)
	for _, k := range Kinds() {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// GrantSet maps module id to the kinds granted on it. A module absent from
// the map means no access to that module.
type GrantSet map[string]KindSet

// Clone returns a detached copy. Mutating the copy never affects the
// original; this is the value handed out by the permission-cloning workflow.
func (g GrantSet) Clone() GrantSet {
	if g == nil {
		return nil
	}
	out := make(GrantSet, len(g))
	for module, kinds := range g {
		out[module] = kinds
	}
	return out
}

// Normalize drops modules whose kind set is empty. Sync semantics treat an
// empty set the same as an absent row.
func (g GrantSet) Normalize() GrantSet {
	out := make(GrantSet, len(g))
	for module, kinds := range g {
		if kinds.Empty() {
			continue
		}
		out[module] = kinds
	}
	return out
}

// Equal reports set equality over modules and kinds.
func (g GrantSet) Equal(other GrantSet) bool {
	a, b := g.Normalize(), other.Normalize()
	if len(a) != len(b) {
		return false
	}
	for module, kinds := range a {
		if b[module] != kinds {
			return false
		}
	}
	return true
}

// Principal identifies the authenticated caller of a request: which user,
// in which tenant, holding which role.
type Principal struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	RoleID   string `json:"role_id,omitempty"`
}

// DeletionState classifies a role relative to the deletion workflow.
type DeletionState string

const (
	// Deletable marks a custom role with zero assigned users.
	Deletable DeletionState = "deletable"
	// ProtectedSystem marks a seeded role that is permanently undeletable.
	ProtectedSystem DeletionState = "protected_system"
	// HasAssignedUsers marks a custom role blocked until its users are
	// reassigned to another role.
	HasAssignedUsers DeletionState = "has_assigned_users"
)

// DeletionStateOf evaluates the deletion state machine for a role given its
// current assigned-user count.
func DeletionStateOf(role Role, userCount int) DeletionState {
	if role.IsSystem {
		return ProtectedSystem
	}
	if userCount > 0 {
		return HasAssignedUsers
	}
	return Deletable
}
