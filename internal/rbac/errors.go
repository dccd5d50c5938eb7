package rbac

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("rbac: invalid input")
	ErrNotFound      = errors.New("rbac: not found")
	ErrNameConflict  = errors.New("rbac: role name already exists in tenant")
	ErrInvalidGrant  = errors.New("rbac: invalid grant")
	ErrProtectedRole = errors.New("rbac: system role cannot be modified or deleted")
	ErrSameRole      = errors.New("rbac: source and target roles are identical")
	ErrCrossTenant   = errors.New("rbac: roles belong to different tenants")
	ErrUnauthorized  = errors.New("rbac: unauthorized")
)

// HasAssignedUsersError blocks deletion of a role that still has users
// assigned. It is a business-rule result rather than a fault: callers read
// Count and branch into the reassignment workflow.
type HasAssignedUsersError struct {
	RoleID string
	Count  int
}

func (e *HasAssignedUsersError) Error() string {
	return fmt.Sprintf("rbac: role %s has %d assigned users", e.RoleID, e.Count)
}

// AsHasAssignedUsers unwraps err into a HasAssignedUsersError if possible.
func AsHasAssignedUsers(err error) (*HasAssignedUsersError, bool) {
	var target *HasAssignedUsersError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
