package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

const roleColumns = `id, tenant_id, name, coalesce(description, ''), coalesce(color, ''), is_system, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, tenantID, name, description, color string) (rbac.Role, error) {
	var role rbac.Role
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, name, description, color, is_system)
		values ($1, $2, $3, $4, $5, false)
		returning `+roleColumns+`
	`, ids.New(), tenantID, name, nullIfEmpty(description), nullIfEmpty(color))
	if err := scanRole(row, &role); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.Role{}, rbac.ErrNameConflict
			case pgErrForeignKeyViolation:
				return rbac.Role{}, rbac.ErrNotFound
			}
		}
		return rbac.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (rbac.Role, error) {
	var role rbac.Role
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1
	`, roleID)
	if err := scanRole(row, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.Role{}, rbac.ErrNotFound
		}
		return rbac.Role{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]rbac.RoleWithUsers, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.tenant_id, r.name, coalesce(r.description, ''), coalesce(r.color, ''),
		       r.is_system, r.created_at, r.updated_at, count(u.id)
		from roles r
		left join users u on u.role_id = r.id
		where r.tenant_id = $1
		group by r.id
		order by r.is_system desc, r.name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.RoleWithUsers
	for rows.Next() {
		var r rbac.RoleWithUsers
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.Name, &r.Description, &r.Color,
			&r.IsSystem, &r.CreatedAt, &r.UpdatedAt, &r.UserCount,
		); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (rbac.Role, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.Color != nil {
		sets = append(sets, fmt.Sprintf("color = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Color))
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return rbac.Role{}, rbac.ErrNameConflict
			}
			return rbac.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return rbac.Role{}, err
		}
		if aff == 0 {
			return rbac.Role{}, rbac.ErrNotFound
		}
	}
	return s.GetRole(ctx, roleID)
}

// SyncGrants replaces the role's grants in a single transaction: a failure
// at any point rolls back to the previous complete set.
func (s *Store) SyncGrants(ctx context.Context, roleID string, grants rbac.GrantSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_grants where role_id = $1`, roleID); err != nil {
		return err
	}

	modules := make([]string, 0, len(grants))
	for module := range grants {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	for _, module := range modules {
		kinds := grants[module]
		if kinds.Empty() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_grants (role_id, module_id, can_view, can_create, can_edit, can_delete)
			values ($1, $2, $3, $4, $5, $6)
		`, roleID, module, kinds.View, kinds.Create, kinds.Edit, kinds.Delete); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GrantsForRole(ctx context.Context, roleID string) (rbac.GrantSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		select module_id, can_view, can_create, can_edit, can_delete
		from role_grants
		where role_id = $1
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := rbac.GrantSet{}
	for rows.Next() {
		var (
			module string
			kinds  rbac.KindSet
		)
		if err := rows.Scan(&module, &kinds.View, &kinds.Create, &kinds.Edit, &kinds.Delete); err != nil {
			return nil, err
		}
		grants[module] = kinds
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *Store) CountUsers(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `select count(*) from users where role_id = $1`, roleID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// ReassignUsers moves every user in one statement, so concurrent readers
// never observe a partially reassigned role.
func (s *Store) ReassignUsers(ctx context.Context, fromRoleID, toRoleID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update users set role_id = $2, updated_at = now()
		where role_id = $1
	`, fromRoleID, toRoleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return 0, rbac.ErrNotFound
		}
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

func (s *Store) UserGrant(ctx context.Context, userID, moduleID string) (rbac.KindSet, error) {
	var kinds rbac.KindSet
	err := s.db.QueryRowContext(ctx, `
		select g.can_view, g.can_create, g.can_edit, g.can_delete
		from users u
		join role_grants g on g.role_id = u.role_id and g.module_id = $2
		where u.id = $1
	`, userID, moduleID).Scan(&kinds.View, &kinds.Create, &kinds.Edit, &kinds.Delete)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.KindSet{}, nil
	}
	if err != nil {
		return rbac.KindSet{}, err
	}
	return kinds, nil
}

type roleScanner interface {
	Scan(dest ...any) error
}

func scanRole(row roleScanner, role *rbac.Role) error {
	return row.Scan(
		&role.ID, &role.TenantID, &role.Name, &role.Description, &role.Color,
		&role.IsSystem, &role.CreatedAt, &role.UpdatedAt,
	)
}
