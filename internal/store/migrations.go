package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arclabs561/decksage-sub002/internal/logger"
)

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classify("migrate", s.path, err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return classify("migrate", s.path, err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return classify("migrate", s.path, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err))
		}
		logger.Info("applied migration", "path", s.path, "version", m.version, "name", m.name)
	}

	return nil
}

func (s *SQLiteStore) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, queryAppliedMigrations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *SQLiteStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := m.apply(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, queryRecordMigration, m.version, m.name); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// addColumn adds a nullable column unless the table already has it.
func addColumn(table, column, colType string) func(context.Context, execQuerier) error {
	return func(ctx context.Context, tx execQuerier) error {
		exists, err := columnExists(ctx, tx, table, column)
		if err != nil || exists {
			return err
		}
		_, err = tx.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+colType)
		return err
	}
}

func columnExists(ctx context.Context, q execQuerier, table, column string) (bool, error) {
	cols, err := tableColumns(ctx, q, table)
	if err != nil {
		return false, err
	}
	return cols[column], nil
}

// tableColumns returns the set of columns present on table.
func tableColumns(ctx context.Context, q execQuerier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			continue
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
