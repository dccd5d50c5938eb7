package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	versionTable = "schema_migrations"
	seedTable    = "schema_seeds"
)

// Runner applies versioned SQL migrations and idempotent seed files from
// disk. Each file runs inside its own transaction and is recorded in a
// bookkeeping table so reruns skip it.
type Runner struct {
	db      *sql.DB
	migDir  string
	seedDir string
	log     *zap.Logger
}

func NewRunner(db *sql.DB, migrationsDir, seedsDir string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{db: db, migDir: migrationsDir, seedDir: seedsDir, log: log}
}

// Up applies every pending .up.sql migration in lexical order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	applied, err := r.appliedSet(ctx, versionTable)
	if err != nil {
		return err
	}
	pending, err := listSQLFiles(r.migDir, ".up.sql")
	if err != nil {
		return err
	}
	for _, file := range pending {
		if applied[file.name] {
			continue
		}
		if err := r.runFile(ctx, file.path); err != nil {
			return fmt.Errorf("migration %s: %w", file.name, err)
		}
		if err := r.markApplied(ctx, versionTable, file.name); err != nil {
			return err
		}
		r.log.Info("migration applied", zap.String("file", file.name))
	}
	return nil
}

// Down reverts the most recently applied migration using its .down.sql
// counterpart.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	applied, err := r.appliedList(ctx, versionTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("nothing to roll back")
	}
	latest := applied[len(applied)-1]
	down := strings.TrimSuffix(filepath.Join(r.migDir, latest), ".up.sql") + ".down.sql"
	if _, err := os.Stat(down); err != nil {
		return fmt.Errorf("no down file for %s", latest)
	}
	if err := r.runFile(ctx, down); err != nil {
		return fmt.Errorf("rollback %s: %w", latest, err)
	}
	if _, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, versionTable), latest); err != nil {
		return err
	}
	r.log.Info("migration rolled back", zap.String("file", latest))
	return nil
}

// Seed runs every seed file that has not run before. Seeds are ordinary SQL
// and are expected to be written idempotently anyway.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	applied, err := r.appliedSet(ctx, seedTable)
	if err != nil {
		return err
	}
	files, err := listSQLFiles(r.seedDir, ".sql")
	if err != nil {
		return err
	}
	for _, file := range files {
		if applied[file.name] {
			continue
		}
		if err := r.runFile(ctx, file.path); err != nil {
			return fmt.Errorf("seed %s: %w", file.name, err)
		}
		if err := r.markApplied(ctx, seedTable, file.name); err != nil {
			return err
		}
		r.log.Info("seed applied", zap.String("file", file.name))
	}
	return nil
}

// Status lists applied migrations oldest first.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	return r.appliedList(ctx, versionTable)
}

func (r *Runner) ensureBookkeeping(ctx context.Context) error {
	for _, table := range []string{versionTable, seedTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name       text primary key,
				applied_at timestamptz not null default now()
			)`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// runFile executes one SQL file in a single transaction. Statements are
// split on top-level semicolons because the driver's extended protocol
// rejects multi-statement strings.
func (r *Runner) runFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) markApplied(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s (name) values ($1)`, table), name)
	return err
}

func (r *Runner) appliedSet(ctx context.Context, table string) (map[string]bool, error) {
	names, err := r.appliedList(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set, nil
}

func (r *Runner) appliedList(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	name string
	path string
}

func listSQLFiles(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{name: d.Name(), path: path})
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements cuts SQL text on semicolons outside single-quoted strings.
func splitStatements(text string) []string {
	var (
		out     []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '\'':
			quoted = !quoted
		case ';':
			if !quoted {
				out = append(out, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		out = append(out, current.String())
	}
	return out
}
