package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate 为 SQL 追踪后端建表。
// postgres 使用 golang-migrate；sqlite 按版本号顺序执行内嵌的 *.up.sql，
// 已执行的版本记录在 pricekit_migrations 表中。
func Migrate(ctx context.Context, dialect, dsn string) error {
	switch dialect {
	case DialectPostgres:
		return migratePostgres(dsn)
	case DialectSQLite:
		db, err := OpenSQL(ctx, DialectSQLite, dsn, false)
		if err != nil {
			return err
		}
		defer db.Close()
		return migrateSQLite(ctx, db)
	}
	return fmt.Errorf("unsupported sql dialect %q", dialect)
}

func migratePostgres(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "pricekit_migrations"})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Close 同时关闭 source 与 db
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrationFile struct {
	version uint64
	name    string
}

func upMigrations() ([]migrationFile, error) {
	names, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return nil, err
	}
	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		base := strings.TrimPrefix(name, "migrations/")
		prefix, _, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s has no version prefix", base)
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", base, err)
		}
		files = append(files, migrationFile{version: v, name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS pricekit_migrations (version BIGINT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	files, err := upMigrations()
	if err != nil {
		return err
	}
	for _, f := range files {
		var applied int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pricekit_migrations WHERE version = ?`, f.version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", f.version, err)
		}
		if applied > 0 {
			continue
		}
		body, err := migrations.ReadFile(f.name)
		if err != nil {
			return err
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", f.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO pricekit_migrations (version) VALUES (?)`, f.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", f.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", f.version, err)
		}
	}
	return nil
}
