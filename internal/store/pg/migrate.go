package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	migrations "github.com/dropDatabas3/churchgate/migrations/postgres"
)

// migrationLockID es la clave de pg_advisory_lock para las migraciones.
const migrationLockID int64 = 0x6368757263686701

// Migrate aplica los *_up.sql embebidos que falten, en orden lexicográfico,
// bajo un advisory lock. Retorna cuántos aplicó.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	return s.migrateFS(ctx, migrations.FS)
}

func (s *Store) migrateFS(ctx context.Context, fsys fs.FS) (int, error) {
	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := s.pool.Acquire(lockCtx)
	if err != nil {
		return 0, mapErr("pg: migrate acquire", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("pg: migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			s.log.Warn("release migration lock failed", logger.Err(err))
		}
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return 0, fmt.Errorf("pg: schema_migrations: %w", err)
	}

	files, err := upScripts(fsys)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, name := range files {
		var done bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&done); err != nil {
			return applied, fmt.Errorf("pg: check %s: %w", name, err)
		}
		if done {
			continue
		}
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, err
		}
		tx, err := conn.Begin(ctx)
		if err != nil {
			return applied, err
		}
		if _, err := tx.Exec(ctx, string(b)); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("pg: exec %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("pg: record %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, err
		}
		s.log.Info("migration applied", logger.String("name", name))
		applied++
	}
	return applied, nil
}

// upScripts lista los *_up.sql de la raíz de fsys, ordenados.
func upScripts(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), "_up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
