package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/rbac"
)

// ReadyProbe reports whether the backing database is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Roles     *rbac.Service
	Guard     *rbac.Guard
	AuditLog  *audit.Service
	Ready     ReadyProbe
	Log       *zap.Logger
	Version   string
	JWTSecret string
	Issuer    string

	MaxBodyBytes   int64
	RatePerSecond  int
	RateBurst      int
	AllowedOrigins []string
}

// API is the HTTP layer over the role and audit services.
type API struct {
	router    chi.Router
	roles     *rbac.Service
	guard     *rbac.Guard
	auditlog  *audit.Service
	ready     ReadyProbe
	log       *zap.Logger
	version   string
	jwtSecret []byte
	issuer    string
}

// New assembles the router with middleware and all routes.
func New(opts Options) *API {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := &API{
		router:   chi.NewRouter(),
		roles:    opts.Roles,
		guard:    opts.Guard,
		auditlog: opts.AuditLog,
		ready:    opts.Ready,
		log:      log,
		version:  opts.Version,
		issuer:   opts.Issuer,
	}
	if opts.JWTSecret != "" {
		a.jwtSecret = []byte(opts.JWTSecret)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	perSecond, burst := opts.RatePerSecond, opts.RateBurst
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	r := a.router
	r.Use(RequestMeta)
	r.Use(RequestLogger(log))
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(MaxBodyBytes(maxBody))
	r.Use(RateLimit(burst, perSecond))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReady)
	r.Get("/v1/info", a.handleInfo)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/v1/modules", a.handleModules)

		r.Route("/v1/roles", func(r chi.Router) {
			r.Get("/", a.handleListRoles)
			r.Post("/", a.handleCreateRole)
			r.Post("/bulk-delete", a.handleBulkDeleteRoles)
			r.Route("/{roleID}", func(r chi.Router) {
				r.Put("/", a.handleUpdateRole)
				r.Delete("/", a.handleDeleteRole)
				r.Get("/grants", a.handleRoleGrants)
				r.Post("/reassign-users", a.handleReassignUsers)
			})
		})

		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/events", a.handleQueryAudit)
			r.Get("/events/export", a.handleExportAudit)
			r.Get("/statistics", a.handleAuditStatistics)
			r.Post("/cleanup", a.handleAuditCleanup)
		})
	})

	return a
}

// Handler returns the root handler wrapped with metrics instrumentation.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsdesk-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "opsdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// authorize resolves the caller and checks the permission through the
// guard. It writes the failure response itself and reports success.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, moduleID string, kind rbac.Kind) (rbac.Principal, bool) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return rbac.Principal{}, false
	}
	allowed, err := a.guard.Can(r.Context(), principal.UserID, moduleID, kind)
	if err != nil {
		a.log.Error("authorization check failed", zap.String("module", moduleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authorization check failed")
		return rbac.Principal{}, false
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "permission denied")
		return rbac.Principal{}, false
	}
	return principal, true
}
