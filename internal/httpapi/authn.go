package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"opsdesk.org/internal/rbac"
)

// accessClaims is the token payload. Tenant and role travel in compact
// custom claims next to the registered set.
type accessClaims struct {
	TenantID string `json:"tid"`
	RoleID   string `json:"rid"`
	jwt.RegisteredClaims
}

// SupportsTokens reports whether a signing secret is configured. Without one
// the API runs open, which is only acceptable for local development.
func (a *API) SupportsTokens() bool {
	return len(a.jwtSecret) > 0
}

// IssueToken signs an access token for the given principal. Used by tests
// and by the bootstrap tooling; interactive login lives outside this service.
func (a *API) IssueToken(principal rbac.Principal, ttl time.Duration) (string, error) {
	if !a.SupportsTokens() {
		return "", fmt.Errorf("token signing is not configured")
	}
	now := time.Now()
	claims := accessClaims{
		TenantID: principal.TenantID,
		RoleID:   principal.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// withAuth authenticates the bearer token and places the principal in the
// request context. When no secret is configured the request passes through
// and handlers see no principal.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.SupportsTokens() {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw = strings.TrimPrefix(raw, "Bearer ")

		var claims accessClaims
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		}
		if a.issuer != "" {
			opts = append(opts, jwt.WithIssuer(a.issuer))
		}
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return a.jwtSecret, nil
		}, opts...)
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Subject == "" || claims.TenantID == "" {
			writeError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}

		ctx := rbac.ContextWithPrincipal(r.Context(), rbac.Principal{
			UserID:   claims.Subject,
			TenantID: claims.TenantID,
			RoleID:   claims.RoleID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
