package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/audit"
)

var _ audit.Store = (*Store)(nil)

const auditSelect = `
	select e.id, e.tenant_id, coalesce(e.actor_user_id, ''),
	       coalesce(u.name, ''), coalesce(u.email, ''),
	       e.action, coalesce(e.entity_type, ''), coalesce(e.entity_id, ''),
	       e.details, coalesce(e.ip_address, ''), coalesce(e.user_agent, ''),
	       e.severity, e.created_at
	from audit_events e
	left join users u on u.id = e.actor_user_id`

const auditOrder = ` order by e.created_at desc, e.id desc`

func (s *Store) Insert(ctx context.Context, event *audit.Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events
			(id, tenant_id, actor_user_id, action, entity_type, entity_id,
			 details, ip_address, user_agent, severity, created_at)
		values ($1, $2, nullif($3, ''), $4, nullif($5, ''), nullif($6, ''),
		        $7, nullif($8, ''), nullif($9, ''), $10, $11)
	`, event.ID, event.TenantID, event.ActorUserID, event.Action, event.EntityType,
		event.EntityID, details, event.IPAddress, event.UserAgent, string(event.Severity),
		event.CreatedAt)
	return err
}

// auditWhere builds the conjunctive filter clause. The free-text search
// matches the action rendered as its display name (separators replaced by
// spaces, case-insensitively), the actor's name and email, and the details
// JSON flattened to text.
func auditWhere(tenantID string, f audit.Filter) (string, []any) {
	clauses := []string{"e.tenant_id = $1"}
	args := []any{tenantID}
	next := func() int { return len(args) + 1 }

	if f.ActorUserID != "" {
		clauses = append(clauses, fmt.Sprintf("e.actor_user_id = $%d", next()))
		args = append(args, f.ActorUserID)
	}
	if f.Action != "" {
		clauses = append(clauses, fmt.Sprintf("e.action = $%d", next()))
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		clauses = append(clauses, fmt.Sprintf("e.entity_type = $%d", next()))
		args = append(args, f.EntityType)
	}
	if f.Start != nil {
		clauses = append(clauses, fmt.Sprintf("e.created_at >= $%d", next()))
		args = append(args, f.Start.UTC())
	}
	if f.End != nil {
		clauses = append(clauses, fmt.Sprintf("e.created_at <= $%d", next()))
		args = append(args, f.End.UTC())
	}
	if f.Search != "" {
		n := next()
		clauses = append(clauses, fmt.Sprintf(
			`(translate(e.action, '._-', '   ') ilike '%%' || $%d || '%%'
			  or coalesce(u.name, '') ilike '%%' || $%d || '%%'
			  or coalesce(u.email, '') ilike '%%' || $%d || '%%'
			  or e.details::text ilike '%%' || $%d || '%%')`, n, n, n, n))
		args = append(args, f.Search)
	}
	return " where " + strings.Join(clauses, " and "), args
}

func (s *Store) Query(ctx context.Context, tenantID string, f audit.Filter, limit, offset int) ([]audit.Event, int, error) {
	where, args := auditWhere(tenantID, f)

	var total int
	countQuery := `select count(*) from audit_events e left join users u on u.id = e.actor_user_id` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("%s%s%s limit $%d offset $%d", auditSelect, where, auditOrder, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *Store) QueryAll(ctx context.Context, tenantID string, f audit.Filter) ([]audit.Event, error) {
	where, args := auditWhere(tenantID, f)
	return s.queryEvents(ctx, auditSelect+where+auditOrder, args...)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e          audit.Event
			rawDetails []byte
			severity   string
		)
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.ActorUserID, &e.ActorName, &e.ActorEmail,
			&e.Action, &e.EntityType, &e.EntityID, &rawDetails,
			&e.IPAddress, &e.UserAgent, &severity, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Severity = audit.Severity(severity)
		e.Details = map[string]string{}
		if len(rawDetails) > 0 {
			if err := json.Unmarshal(rawDetails, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details for event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) Statistics(ctx context.Context, tenantID string, since time.Time) (audit.Statistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		select action, severity, count(*)
		from audit_events
		where tenant_id = $1 and created_at >= $2
		group by action, severity
	`, tenantID, since)
	if err != nil {
		return audit.Statistics{}, err
	}
	defer rows.Close()

	stats := audit.Statistics{
		ByAction:   map[string]int{},
		BySeverity: map[audit.Severity]int{},
	}
	for rows.Next() {
		var (
			action   string
			severity string
			count    int
		)
		if err := rows.Scan(&action, &severity, &count); err != nil {
			return audit.Statistics{}, err
		}
		stats.ByAction[action] += count
		stats.BySeverity[audit.Severity(severity)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return audit.Statistics{}, err
	}
	return stats, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from audit_events
		where tenant_id = $1 and created_at < $2
	`, tenantID, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
