package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsdesk.org/internal/settings"
)

var _ settings.Store = (*Store)(nil)

// GetSetting returns a single tenant-scoped setting value.
func (s *Store) GetSetting(ctx context.Context, tenantID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		select value from settings
		where tenant_id = $1 and key = $2
	`, tenantID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", settings.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
