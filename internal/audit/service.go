package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/obs"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	// DefaultRetentionDays applies when a tenant has no retention setting.
	DefaultRetentionDays = 90
)

// Store describes persistence for the append-only event log.
type Store interface {
	Insert(ctx context.Context, event *Event) error
	Query(ctx context.Context, tenantID string, f Filter, limit, offset int) ([]Event, int, error)
	// QueryAll returns every matching event in the same order Query uses.
	QueryAll(ctx context.Context, tenantID string, f Filter) ([]Event, error)
	Statistics(ctx context.Context, tenantID string, since time.Time) (Statistics, error)
	DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// RetentionSource supplies the per-tenant retention policy. The audit core
// only reads it; cache lifetime and invalidation belong to the provider.
type RetentionSource interface {
	RetentionDays(ctx context.Context, tenantID string) (int, error)
}

// Service records, queries, exports and retires audit events.
type Service struct {
	store     Store
	retention RetentionSource
	now       func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRetentionSource wires the per-tenant retention policy reader.
func WithRetentionSource(src RetentionSource) Option {
	return func(s *Service) { s.retention = src }
}

// NewService constructs the audit service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Record appends one event. Severity is derived from the action code and
// request attribution is filled from the context when the entry leaves it
// blank.
func (s *Service) Record(ctx context.Context, entry Entry) (Event, error) {
	entry.TenantID = strings.TrimSpace(entry.TenantID)
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.TenantID == "" {
		return Event{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if entry.Action == "" {
		return Event{}, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}

	if meta, ok := MetaFromContext(ctx); ok {
		if entry.IPAddress == "" {
			entry.IPAddress = meta.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = meta.UserAgent
		}
	}

	details := make(map[string]string, len(entry.Details))
	for k, v := range entry.Details {
		details[k] = v
	}

	event := Event{
		ID:          ids.New(),
		TenantID:    entry.TenantID,
		ActorUserID: entry.ActorUserID,
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Details:     details,
		IPAddress:   entry.IPAddress,
		UserAgent:   entry.UserAgent,
		Severity:    SeverityOf(entry.Action),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Insert(ctx, &event); err != nil {
		return Event{}, err
	}
	obs.ObserveAuditEvent(string(event.Severity))
	return event, nil
}

// Query returns one page of events matching the filter, newest first.
func (s *Service) Query(ctx context.Context, tenantID string, f Filter, page, pageSize int) (Page, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Page{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if err := validateFilter(f); err != nil {
		return Page{}, err
	}
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidInput)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, total, err := s.store.Query(ctx, tenantID, f, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// exportColumns is the stable column order of the tabular export.
var exportColumns = []string{
	"timestamp",
	"action_display_name",
	"actor_name",
	"actor_email",
	"entity_type",
	"entity_id",
	"ip_address",
	"severity",
	"details",
}

// Export writes every matching event as CSV: header row first, then one row
// per event in the exact order Query would return them unpaginated.
func (s *Service) Export(ctx context.Context, tenantID string, f Filter, w io.Writer) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if err := validateFilter(f); err != nil {
		return err
	}

	events, err := s.store.QueryAll(ctx, tenantID, f)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, e := range events {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode details for event %s: %w", e.ID, err)
		}
		row := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			DisplayName(e.Action),
			e.ActorName,
			e.ActorEmail,
			e.EntityType,
			e.EntityID,
			e.IPAddress,
			string(e.Severity),
			string(details),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Statistics aggregates counts by action and severity over the trailing
// window.
func (s *Service) Statistics(ctx context.Context, tenantID string, windowDays int) (Statistics, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Statistics{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if windowDays < 1 {
		return Statistics{}, fmt.Errorf("%w: window_days must be >= 1", ErrInvalidInput)
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)
	stats, err := s.store.Statistics(ctx, tenantID, since)
	if err != nil {
		return Statistics{}, err
	}
	stats.WindowDays = windowDays
	return stats, nil
}

// Cleanup deletes all events older than the retention cutoff and returns the
// exact count removed. Running it twice with the same cutoff deletes nothing
// the second time.
func (s *Service) Cleanup(ctx context.Context, tenantID string, retentionDays int) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if retentionDays < 1 {
		return 0, fmt.Errorf("%w: retention_days must be >= 1", ErrInvalidInput)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	return s.store.DeleteOlderThan(ctx, tenantID, cutoff)
}

// Sweep runs Cleanup with the tenant's configured retention, falling back to
// DefaultRetentionDays when no policy source is wired or the tenant has none.
func (s *Service) Sweep(ctx context.Context, tenantID string) (int64, error) {
	days := DefaultRetentionDays
	if s.retention != nil {
		configured, err := s.retention.RetentionDays(ctx, tenantID)
		if err != nil {
			return 0, fmt.Errorf("read retention policy: %w", err)
		}
		if configured > 0 {
			days = configured
		}
	}
	return s.Cleanup(ctx, tenantID, days)
}

func validateFilter(f Filter) error {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return ErrInvalidDateRange
	}
	return nil
}
