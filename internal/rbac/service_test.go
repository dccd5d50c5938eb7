package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
)

type stubStore struct {
	createRoleFn    func(context.Context, string, string, string, string) (Role, error)
	getRoleFn       func(context.Context, string) (Role, error)
	listRolesFn     func(context.Context, string) ([]RoleWithUsers, error)
	updateRoleFn    func(context.Context, string, RoleUpdate) (Role, error)
	syncGrantsFn    func(context.Context, string, GrantSet) error
	grantsForRoleFn func(context.Context, string) (GrantSet, error)
	countUsersFn    func(context.Context, string) (int, error)
	deleteRoleFn    func(context.Context, string) error
	reassignFn      func(context.Context, string, string) (int, error)
	userGrantFn     func(context.Context, string, string) (KindSet, error)
}

func (s *stubStore) CreateRole(ctx context.Context, tenantID, name, description, color string) (Role, error) {
	if s.createRoleFn != nil {
		return s.createRoleFn(ctx, tenantID, name, description, color)
	}
	return Role{ID: "r1", TenantID: tenantID, Name: name}, nil
}

func (s *stubStore) GetRole(ctx context.Context, roleID string) (Role, error) {
	if s.getRoleFn != nil {
		return s.getRoleFn(ctx, roleID)
	}
	return Role{ID: roleID, TenantID: "t1"}, nil
}

func (s *stubStore) ListRoles(ctx context.Context, tenantID string) ([]RoleWithUsers, error) {
	if s.listRolesFn != nil {
		return s.listRolesFn(ctx, tenantID)
	}
	return nil, nil
}

func (s *stubStore) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	if s.updateRoleFn != nil {
		return s.updateRoleFn(ctx, roleID, upd)
	}
	return Role{ID: roleID, TenantID: "t1"}, nil
}

func (s *stubStore) SyncGrants(ctx context.Context, roleID string, grants GrantSet) error {
	if s.syncGrantsFn != nil {
		return s.syncGrantsFn(ctx, roleID, grants)
	}
	return nil
}

func (s *stubStore) GrantsForRole(ctx context.Context, roleID string) (GrantSet, error) {
	if s.grantsForRoleFn != nil {
		return s.grantsForRoleFn(ctx, roleID)
	}
	return GrantSet{}, nil
}

func (s *stubStore) CountUsers(ctx context.Context, roleID string) (int, error) {
	if s.countUsersFn != nil {
		return s.countUsersFn(ctx, roleID)
	}
	return 0, nil
}

func (s *stubStore) DeleteRole(ctx context.Context, roleID string) error {
	if s.deleteRoleFn != nil {
		return s.deleteRoleFn(ctx, roleID)
	}
	return nil
}

func (s *stubStore) ReassignUsers(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	if s.reassignFn != nil {
		return s.reassignFn(ctx, fromRoleID, toRoleID)
	}
	return 0, nil
}

func (s *stubStore) UserGrant(ctx context.Context, userID, moduleID string) (KindSet, error) {
	if s.userGrantFn != nil {
		return s.userGrantFn(ctx, userID, moduleID)
	}
	return KindSet{}, nil
}

type stubRecorder struct {
	entries []audit.Entry
	err     error
}

func (r *stubRecorder) Record(_ context.Context, entry audit.Entry) (audit.Event, error) {
	if r.err != nil {
		return audit.Event{}, r.err
	}
	r.entries = append(r.entries, entry)
	return audit.Event{ID: "e1", Action: entry.Action, CreatedAt: time.Now().UTC()}, nil
}

func newTestService(t *testing.T, store Store, recorder *stubRecorder) *Service {
	t.Helper()
	svc, err := NewService(store, recorder, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

var testActor = Principal{UserID: "u1", TenantID: "t1", RoleID: "admin"}

func TestCreateValidatesGrants(t *testing.T) {
	svc := newTestService(t, &stubStore{}, &stubRecorder{})

	_, err := svc.Create(context.Background(), testActor, CreateRoleInput{
		Name:   "Support",
		Grants: GrantSet{"nonexistent": KindSetOf(KindView)},
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc := newTestService(t, &stubStore{}, &stubRecorder{})

	_, err := svc.Create(context.Background(), testActor, CreateRoleInput{Name: "   "})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateSyncsGrantsAndEmitsAudit(t *testing.T) {
	var synced GrantSet
	store := &stubStore{
		syncGrantsFn: func(_ context.Context, roleID string, grants GrantSet) error {
			if roleID != "r1" {
				t.Fatalf("unexpected role id %s", roleID)
			}
			synced = grants
			return nil
		},
	}
	recorder := &stubRecorder{}
	svc := newTestService(t, store, recorder)

	grants := GrantSet{
		"tickets": KindSetOf(KindView, KindEdit),
		"reports": {}, // empty sets are dropped, not stored
	}
	role, err := svc.Create(context.Background(), testActor, CreateRoleInput{
		Name:   "Support",
		Grants: grants,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if role.Name != "Support" {
		t.Fatalf("unexpected role name %q", role.Name)
	}
	if len(synced) != 1 || !synced["tickets"].Has(KindEdit) {
		t.Fatalf("unexpected synced grants %+v", synced)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Action != audit.ActionRoleCreated {
		t.Fatalf("expected role.created audit entry, got %+v", recorder.entries)
	}
}

func TestUpdateRejectsSystemRole(t *testing.T) {
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			return Role{ID: roleID, TenantID: "t1", IsSystem: true}, nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	name := "Renamed"
	_, err := svc.Update(context.Background(), testActor, "r-sys", UpdateRoleInput{Name: &name})
	if !errors.Is(err, ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole, got %v", err)
	}
}

func TestUpdateLeavesGrantsWhenNil(t *testing.T) {
	store := &stubStore{
		syncGrantsFn: func(context.Context, string, GrantSet) error {
			t.Fatal("SyncGrants must not be called for nil grants")
			return nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	desc := "updated description"
	if _, err := svc.Update(context.Background(), testActor, "r1", UpdateRoleInput{Description: &desc}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestDeleteSystemRoleBlocked(t *testing.T) {
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			return Role{ID: roleID, TenantID: "t1", IsSystem: true}, nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	err := svc.Delete(context.Background(), testActor, "r-sys")
	if !errors.Is(err, ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole, got %v", err)
	}
}

func TestDeleteBlockedByAssignedUsers(t *testing.T) {
	store := &stubStore{
		countUsersFn: func(context.Context, string) (int, error) { return 3, nil },
		deleteRoleFn: func(context.Context, string) error {
			t.Fatal("DeleteRole must not be called while users are assigned")
			return nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	err := svc.Delete(context.Background(), testActor, "r1")
	blocked, ok := AsHasAssignedUsers(err)
	if !ok {
		t.Fatalf("expected HasAssignedUsersError, got %v", err)
	}
	if blocked.Count != 3 || blocked.RoleID != "r1" {
		t.Fatalf("unexpected error payload %+v", blocked)
	}
}

func TestDeleteEmitsAuditEvent(t *testing.T) {
	recorder := &stubRecorder{}
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			return Role{ID: roleID, TenantID: "t1", Name: "Temp"}, nil
		},
	}
	svc := newTestService(t, store, recorder)

	if err := svc.Delete(context.Background(), testActor, "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Action != audit.ActionRoleDeleted || entry.EntityID != "r1" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
	if entry.Details["role_name"] != "Temp" {
		t.Fatalf("expected role name in details, got %+v", entry.Details)
	}
}

func TestDeleteSucceedsDespiteAuditFailure(t *testing.T) {
	recorder := &stubRecorder{err: errors.New("audit store down")}
	svc := newTestService(t, &stubStore{}, recorder)

	if err := svc.Delete(context.Background(), testActor, "r1"); err != nil {
		t.Fatalf("Delete should not fail on audit errors, got %v", err)
	}
}

func TestBulkDeletePartitionsResults(t *testing.T) {
	roles := map[string]Role{
		"r-ok":    {ID: "r-ok", TenantID: "t1", Name: "Deletable"},
		"r-sys":   {ID: "r-sys", TenantID: "t1", Name: "Administrator", IsSystem: true},
		"r-users": {ID: "r-users", TenantID: "t1", Name: "Support"},
	}
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			role, ok := roles[roleID]
			if !ok {
				return Role{}, ErrNotFound
			}
			return role, nil
		},
		countUsersFn: func(_ context.Context, roleID string) (int, error) {
			if roleID == "r-users" {
				return 5, nil
			}
			return 0, nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	result, err := svc.BulkDelete(context.Background(), testActor,
		[]string{"r-ok", "r-sys", "r-users", "r-gone"})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected 1 deleted, got %d", result.DeletedCount)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %+v", result.Errors)
	}
	reasons := map[string]string{}
	for _, e := range result.Errors {
		reasons[e.RoleID] = e.Reason
	}
	if reasons["r-sys"] != BulkReasonSystemRole {
		t.Fatalf("expected system_role reason, got %q", reasons["r-sys"])
	}
	if reasons["r-users"] != BulkReasonHasAssignedUsers {
		t.Fatalf("expected has_assigned_users reason, got %q", reasons["r-users"])
	}
	if reasons["r-gone"] != BulkReasonNotFound {
		t.Fatalf("expected not_found reason, got %q", reasons["r-gone"])
	}
	for _, e := range result.Errors {
		if e.RoleID == "r-users" && e.UserCount != 5 {
			t.Fatalf("expected user count 5, got %d", e.UserCount)
		}
	}
}

func TestBulkDeleteContinuesAfterBlockedRole(t *testing.T) {
	var deleted []string
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			return Role{ID: roleID, TenantID: "t1", IsSystem: roleID == "r-sys"}, nil
		},
		deleteRoleFn: func(_ context.Context, roleID string) error {
			deleted = append(deleted, roleID)
			return nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	result, err := svc.BulkDelete(context.Background(), testActor, []string{"r-sys", "r-a", "r-b"})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if result.DeletedCount != 2 || len(deleted) != 2 {
		t.Fatalf("expected both custom roles deleted, got %+v", deleted)
	}
}

func TestReassignUsersSameRole(t *testing.T) {
	svc := newTestService(t, &stubStore{}, &stubRecorder{})

	_, err := svc.ReassignUsers(context.Background(), testActor, "r1", "r1")
	if !errors.Is(err, ErrSameRole) {
		t.Fatalf("expected ErrSameRole, got %v", err)
	}
}

func TestReassignUsersCrossTenant(t *testing.T) {
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			tenant := "t1"
			if roleID == "r-other" {
				tenant = "t2"
			}
			return Role{ID: roleID, TenantID: tenant}, nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	_, err := svc.ReassignUsers(context.Background(), testActor, "r1", "r-other")
	if !errors.Is(err, ErrCrossTenant) {
		t.Fatalf("expected ErrCrossTenant, got %v", err)
	}
}

func TestReassignUsersMovesAndAudits(t *testing.T) {
	recorder := &stubRecorder{}
	store := &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			return Role{ID: roleID, TenantID: "t1", Name: "role-" + roleID}, nil
		},
		reassignFn: func(_ context.Context, from, to string) (int, error) {
			if from != "r-old" || to != "r-new" {
				t.Fatalf("unexpected reassign %s -> %s", from, to)
			}
			return 7, nil
		},
	}
	svc := newTestService(t, store, recorder)

	moved, err := svc.ReassignUsers(context.Background(), testActor, "r-old", "r-new")
	if err != nil {
		t.Fatalf("ReassignUsers: %v", err)
	}
	if moved != 7 {
		t.Fatalf("expected 7 moved, got %d", moved)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Details["reassigned_count"] != "7" {
		t.Fatalf("unexpected audit entries %+v", recorder.entries)
	}
}

func TestCloneGrantsDetached(t *testing.T) {
	source := GrantSet{"tickets": KindSetOf(KindView)}
	store := &stubStore{
		grantsForRoleFn: func(context.Context, string) (GrantSet, error) {
			return source, nil
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	clone, err := svc.CloneGrants(context.Background(), testActor, "r-src")
	if err != nil {
		t.Fatalf("CloneGrants: %v", err)
	}
	clone["tickets"] = KindSetOf(KindView, KindDelete)
	clone["invoices"] = KindSetOf(KindView)

	if source["tickets"].Has(KindDelete) {
		t.Fatal("mutating the clone leaked into the source grants")
	}
	if _, ok := source["invoices"]; ok {
		t.Fatal("new module on the clone leaked into the source grants")
	}
}

func TestCloneGrantsUnknownRole(t *testing.T) {
	store := &stubStore{
		getRoleFn: func(context.Context, string) (Role, error) {
			return Role{}, ErrNotFound
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	if _, err := svc.CloneGrants(context.Background(), testActor, "r-gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateReportsGrantSyncFailure(t *testing.T) {
	store := &stubStore{
		syncGrantsFn: func(context.Context, string, GrantSet) error {
			return errors.New("connection reset")
		},
	}
	svc := newTestService(t, store, &stubRecorder{})

	_, err := svc.Create(context.Background(), testActor, CreateRoleInput{
		Name:   "Support",
		Grants: GrantSet{"tickets": KindSetOf(KindView)},
	})
	if err == nil {
		t.Fatal("expected the grant sync failure to surface")
	}
}

// foreignRoleStore serves every role from tenant t2, so any t1 actor must
// be told the role does not exist.
func foreignRoleStore(t *testing.T) *stubStore {
	t.Helper()
	return &stubStore{
		getRoleFn: func(_ context.Context, roleID string) (Role, error) {
			return Role{ID: roleID, TenantID: "t2", Name: "Foreign"}, nil
		},
		deleteRoleFn: func(context.Context, string) error {
			t.Fatal("DeleteRole must not be reached across tenants")
			return nil
		},
		updateRoleFn: func(context.Context, string, RoleUpdate) (Role, error) {
			t.Fatal("UpdateRole must not be reached across tenants")
			return Role{}, nil
		},
		grantsForRoleFn: func(context.Context, string) (GrantSet, error) {
			t.Fatal("GrantsForRole must not be reached across tenants")
			return nil, nil
		},
		reassignFn: func(context.Context, string, string) (int, error) {
			t.Fatal("ReassignUsers must not be reached across tenants")
			return 0, nil
		},
	}
}

func TestDeleteHidesForeignTenantRole(t *testing.T) {
	svc := newTestService(t, foreignRoleStore(t), &stubRecorder{})

	if err := svc.Delete(context.Background(), testActor, "r-foreign"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another tenant's role, got %v", err)
	}
}

func TestUpdateHidesForeignTenantRole(t *testing.T) {
	svc := newTestService(t, foreignRoleStore(t), &stubRecorder{})

	name := "Renamed"
	_, err := svc.Update(context.Background(), testActor, "r-foreign", UpdateRoleInput{Name: &name})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another tenant's role, got %v", err)
	}
}

func TestGrantsHideForeignTenantRole(t *testing.T) {
	svc := newTestService(t, foreignRoleStore(t), &stubRecorder{})

	if _, err := svc.Grants(context.Background(), testActor, "r-foreign"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another tenant's role, got %v", err)
	}
}

func TestCloneGrantsHidesForeignTenantRole(t *testing.T) {
	svc := newTestService(t, foreignRoleStore(t), &stubRecorder{})

	if _, err := svc.CloneGrants(context.Background(), testActor, "r-foreign"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another tenant's role, got %v", err)
	}
}

func TestReassignUsersHidesForeignSourceRole(t *testing.T) {
	svc := newTestService(t, foreignRoleStore(t), &stubRecorder{})

	_, err := svc.ReassignUsers(context.Background(), testActor, "r-foreign", "r-new")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another tenant's role, got %v", err)
	}
}

func TestBulkDeleteReportsForeignRoleNotFound(t *testing.T) {
	store := foreignRoleStore(t)
	svc := newTestService(t, store, &stubRecorder{})

	result, err := svc.BulkDelete(context.Background(), testActor, []string{"r-foreign"})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if result.DeletedCount != 0 {
		t.Fatalf("expected nothing deleted, got %d", result.DeletedCount)
	}
	if len(result.Errors) != 1 || result.Errors[0].Reason != BulkReasonNotFound {
		t.Fatalf("expected not_found for another tenant's role, got %+v", result.Errors)
	}
}
