package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/jmoiron/sqlx"
)

// Migration is one forward schema change
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationRunner applies pending migrations and records them in schema_migrations
type MigrationRunner struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewMigrationRunner(db *sqlx.DB, log *logger.Logger) *MigrationRunner {
	return &MigrationRunner{
		db:  db,
		log: log,
	}
}

// Migrations returns every migration in version order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create analysis_runs table",
			Up: `
				CREATE TABLE IF NOT EXISTS analysis_runs (
					id TEXT PRIMARY KEY,
					started_at TIMESTAMPTZ NOT NULL,
					completed_at TIMESTAMPTZ NOT NULL,
					source TEXT NOT NULL,
					technique_count INTEGER NOT NULL DEFAULT 0,
					summary JSONB NOT NULL,
					layers JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_analysis_runs_completed_at ON analysis_runs(completed_at DESC);
			`,
			Down: `DROP TABLE IF EXISTS analysis_runs CASCADE;`,
		},
		{
			Version:     2,
			Description: "Create technique_stats table",
			Up: `
				CREATE TABLE IF NOT EXISTS technique_stats (
					run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
					technique_id TEXT NOT NULL,
					name TEXT NOT NULL,
					groups_count INTEGER NOT NULL DEFAULT 0,
					mitigations_count INTEGER NOT NULL DEFAULT 0,
					relationships_count INTEGER NOT NULL DEFAULT 0,
					referenced_count INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (run_id, technique_id)
				);
				CREATE INDEX IF NOT EXISTS idx_technique_stats_technique_id ON technique_stats(technique_id);
			`,
			Down: `DROP TABLE IF EXISTS technique_stats;`,
		},
	}
}

func (mr *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := mr.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (mr *MigrationRunner) appliedVersions(ctx context.Context) (map[int]bool, error) {
	var versions []int
	if err := mr.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// RunMigrations applies all pending migrations, each in its own transaction
func (mr *MigrationRunner) RunMigrations(ctx context.Context) error {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := mr.appliedVersions(ctx)
	if err != nil {
		return err
	}

	all := Migrations()
	sort.Slice(all, func(i, j int) bool {
		return all[i].Version < all[j].Version
	})

	pending := 0
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if err := mr.apply(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		pending++
	}

	if pending == 0 {
		mr.log.Debugw("Database schema is up to date", "latest_version", all[len(all)-1].Version)
		return nil
	}

	mr.log.Infow("Applied database migrations", "migrations_applied", pending)
	return nil
}

func (mr *MigrationRunner) apply(ctx context.Context, m Migration) error {
	mr.log.Infow("Applying migration", "version", m.Version, "description", m.Description)

	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
		m.Version, m.Description, time.Now(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Status reports the applied and latest schema versions
func (mr *MigrationRunner) Status(ctx context.Context) (current, latest int, err error) {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return 0, 0, err
	}
	applied, err := mr.appliedVersions(ctx)
	if err != nil {
		return 0, 0, err
	}
	for v := range applied {
		if v > current {
			current = v
		}
	}
	for _, m := range Migrations() {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return current, latest, nil
}
