package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/rbac"
)

type stubRoleStore struct {
	createRoleFn    func(context.Context, string, string, string, string) (rbac.Role, error)
	getRoleFn       func(context.Context, string) (rbac.Role, error)
	listRolesFn     func(context.Context, string) ([]rbac.RoleWithUsers, error)
	updateRoleFn    func(context.Context, string, rbac.RoleUpdate) (rbac.Role, error)
	syncGrantsFn    func(context.Context, string, rbac.GrantSet) error
	grantsForRoleFn func(context.Context, string) (rbac.GrantSet, error)
	countUsersFn    func(context.Context, string) (int, error)
	deleteRoleFn    func(context.Context, string) error
	reassignFn      func(context.Context, string, string) (int, error)
	userGrantFn     func(context.Context, string, string) (rbac.KindSet, error)
}

func (s *stubRoleStore) CreateRole(ctx context.Context, tenantID, name, description, color string) (rbac.Role, error) {
	if s.createRoleFn != nil {
		return s.createRoleFn(ctx, tenantID, name, description, color)
	}
	return rbac.Role{ID: "r-new", TenantID: tenantID, Name: name}, nil
}

func (s *stubRoleStore) GetRole(ctx context.Context, roleID string) (rbac.Role, error) {
	if s.getRoleFn != nil {
		return s.getRoleFn(ctx, roleID)
	}
	return rbac.Role{ID: roleID, TenantID: "t1"}, nil
}

func (s *stubRoleStore) ListRoles(ctx context.Context, tenantID string) ([]rbac.RoleWithUsers, error) {
	if s.listRolesFn != nil {
		return s.listRolesFn(ctx, tenantID)
	}
	return nil, nil
}

func (s *stubRoleStore) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (rbac.Role, error) {
	if s.updateRoleFn != nil {
		return s.updateRoleFn(ctx, roleID, upd)
	}
	return rbac.Role{ID: roleID, TenantID: "t1"}, nil
}

func (s *stubRoleStore) SyncGrants(ctx context.Context, roleID string, grants rbac.GrantSet) error {
	if s.syncGrantsFn != nil {
		return s.syncGrantsFn(ctx, roleID, grants)
	}
	return nil
}

func (s *stubRoleStore) GrantsForRole(ctx context.Context, roleID string) (rbac.GrantSet, error) {
	if s.grantsForRoleFn != nil {
		return s.grantsForRoleFn(ctx, roleID)
	}
	return rbac.GrantSet{}, nil
}

func (s *stubRoleStore) CountUsers(ctx context.Context, roleID string) (int, error) {
	if s.countUsersFn != nil {
		return s.countUsersFn(ctx, roleID)
	}
	return 0, nil
}

func (s *stubRoleStore) DeleteRole(ctx context.Context, roleID string) error {
	if s.deleteRoleFn != nil {
		return s.deleteRoleFn(ctx, roleID)
	}
	return nil
}

func (s *stubRoleStore) ReassignUsers(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	if s.reassignFn != nil {
		return s.reassignFn(ctx, fromRoleID, toRoleID)
	}
	return 0, nil
}

func (s *stubRoleStore) UserGrant(ctx context.Context, userID, moduleID string) (rbac.KindSet, error) {
	if s.userGrantFn != nil {
		return s.userGrantFn(ctx, userID, moduleID)
	}
	return rbac.KindSet{}, nil
}

// allowAll grants every kind on every module, for tests that exercise the
// handler rather than the guard.
func allowAll(context.Context, string, string) (rbac.KindSet, error) {
	return rbac.KindSetOf(rbac.KindView, rbac.KindCreate, rbac.KindEdit, rbac.KindDelete), nil
}

type stubEventStore struct {
	events       []audit.Event
	queryFn      func(context.Context, string, audit.Filter, int, int) ([]audit.Event, int, error)
	queryAllFn   func(context.Context, string, audit.Filter) ([]audit.Event, error)
	statisticsFn func(context.Context, string, time.Time) (audit.Statistics, error)
	deleteFn     func(context.Context, string, time.Time) (int64, error)
}

func (s *stubEventStore) Insert(_ context.Context, event *audit.Event) error {
	s.events = append(s.events, *event)
	return nil
}

func (s *stubEventStore) Query(ctx context.Context, tenantID string, f audit.Filter, limit, offset int) ([]audit.Event, int, error) {
	if s.queryFn != nil {
		return s.queryFn(ctx, tenantID, f, limit, offset)
	}
	return nil, 0, nil
}

func (s *stubEventStore) QueryAll(ctx context.Context, tenantID string, f audit.Filter) ([]audit.Event, error) {
	if s.queryAllFn != nil {
		return s.queryAllFn(ctx, tenantID, f)
	}
	return nil, nil
}

func (s *stubEventStore) Statistics(ctx context.Context, tenantID string, since time.Time) (audit.Statistics, error) {
	if s.statisticsFn != nil {
		return s.statisticsFn(ctx, tenantID, since)
	}
	return audit.Statistics{}, nil
}

func (s *stubEventStore) DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, tenantID, cutoff)
	}
	return 0, nil
}

type testAPI struct {
	t      *testing.T
	api    *API
	server *httptest.Server
}

func newTestAPI(t *testing.T, roleStore rbac.Store, eventStore audit.Store, opts ...audit.Option) *testAPI {
	t.Helper()
	auditSvc, err := audit.NewService(eventStore, opts...)
	if err != nil {
		t.Fatalf("audit.NewService: %v", err)
	}
	roleSvc, err := rbac.NewService(roleStore, auditSvc, zap.NewNop())
	if err != nil {
		t.Fatalf("rbac.NewService: %v", err)
	}
	api := New(Options{
		Roles:         roleSvc,
		Guard:         rbac.NewGuard(roleStore),
		AuditLog:      auditSvc,
		Log:           zap.NewNop(),
		Version:       "test",
		JWTSecret:     "test-secret",
		Issuer:        "opsdesk-test",
		RatePerSecond: 1000,
		RateBurst:     1000,
	})
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &testAPI{t: t, api: api, server: server}
}

func (ta *testAPI) token(userID string) string {
	ta.t.Helper()
	token, err := ta.api.IssueToken(rbac.Principal{
		UserID:   userID,
		TenantID: "t1",
		RoleID:   "r-caller",
	}, time.Hour)
	if err != nil {
		ta.t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func (ta *testAPI) do(method, path, token string, body any) *http.Response {
	ta.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			ta.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ta.server.URL+path, reader)
	if err != nil {
		ta.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.server.Client().Do(req)
	if err != nil {
		ta.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
