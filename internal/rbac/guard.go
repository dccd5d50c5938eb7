package rbac

import (
	"context"
	"errors"
)

// Guard answers "can user U perform permission kind K on module M" by
// reading the user's role grants. It is called on every mutating request;
// no caching is required for correctness.
type Guard struct {
	store Store
}

// NewGuard constructs the authorization guard.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Can resolves the permission check. A user with no role, or a role with no
// grant row for the module, yields false (default-deny). Unknown modules
// are denied without touching the store.
func (g *Guard) Can(ctx context.Context, userID, moduleID string, kind Kind) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if _, ok := ModuleByID(moduleID); !ok {
		return false, nil
	}
	set, err := g.store.UserGrant(ctx, userID, moduleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return set.Has(kind), nil
}
