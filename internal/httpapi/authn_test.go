package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/rbac"
)

func TestRequestsWithoutTokenUnauthorized(t *testing.T) {
	ta := newTestAPI(t, &stubRoleStore{userGrantFn: allowAll}, &stubEventStore{})

	resp := ta.do(http.MethodGet, "/v1/roles", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGarbageTokenUnauthorized(t *testing.T) {
	ta := newTestAPI(t, &stubRoleStore{userGrantFn: allowAll}, &stubEventStore{})

	resp := ta.do(http.MethodGet, "/v1/roles", "not-a-jwt", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestExpiredTokenUnauthorized(t *testing.T) {
	ta := newTestAPI(t, &stubRoleStore{userGrantFn: allowAll}, &stubEventStore{})

	token, err := ta.api.IssueToken(rbac.Principal{UserID: "u1", TenantID: "t1"}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	resp := ta.do(http.MethodGet, "/v1/roles", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestValidTokenResolvesPrincipal(t *testing.T) {
	var seenUser string
	store := &stubRoleStore{
		userGrantFn: func(_ context.Context, userID, _ string) (rbac.KindSet, error) {
			seenUser = userID
			return rbac.KindSetOf(rbac.KindView), nil
		},
	}
	ta := newTestAPI(t, store, &stubEventStore{})

	resp := ta.do(http.MethodGet, "/v1/roles", ta.token("u-42"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if seenUser != "u-42" {
		t.Fatalf("expected guard check for token subject, got %q", seenUser)
	}
}

func TestHealthEndpointsBypassAuth(t *testing.T) {
	ta := newTestAPI(t, &stubRoleStore{}, &stubEventStore{})

	resp := ta.do(http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /healthz, got %d", resp.StatusCode)
	}
}

func TestNoSecretRunsOpen(t *testing.T) {
	auditSvc, err := audit.NewService(&stubEventStore{})
	if err != nil {
		t.Fatalf("audit.NewService: %v", err)
	}
	store := &stubRoleStore{userGrantFn: allowAll}
	roleSvc, err := rbac.NewService(store, auditSvc, zap.NewNop())
	if err != nil {
		t.Fatalf("rbac.NewService: %v", err)
	}
	api := New(Options{
		Roles:    roleSvc,
		Guard:    rbac.NewGuard(store),
		AuditLog: auditSvc,
		Log:      zap.NewNop(),
	})
	if api.SupportsTokens() {
		t.Fatal("no secret must disable token auth")
	}
}
