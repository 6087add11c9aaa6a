// Package database keeps the history of analysis runs in PostgreSQL
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/analysis"
)

// ErrRunNotFound is returned when no run matches the lookup
var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// runRow is the analysis_runs row; JSON columns are decoded separately
type runRow struct {
	ID             string         `db:"id"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    time.Time      `db:"completed_at"`
	Source         string         `db:"source"`
	TechniqueCount int            `db:"technique_count"`
	Summary        []byte         `db:"summary"`
	Layers         sql.NullString `db:"layers"`
}

const runColumns = `id, started_at, completed_at, source, technique_count, summary, layers`

func NewStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("database")

	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	ctx, span := log.StartOperation(ctx, "database.NewStore",
		"driver", driver,
		"dsn_masked", maskDSN(cfg.DSN),
	)
	start := time.Now()
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", start, err)
	}()

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err = NewMigrationRunner(db, log).RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infow("Database store initialized",
		"driver", driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Store{db: db, cfg: cfg, logger: log}, nil
}

// maskDSN hides the password of a URL style DSN
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		if len(dsn) > 10 {
			return dsn[:5] + "***" + dsn[len(dsn)-5:]
		}
		return "***"
	}
	if u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// SaveRun stores the run and its per-technique stats in one transaction
func (s *Store) SaveRun(ctx context.Context, run *core.Run) (err error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "database.SaveRun", "run_id", run.ID)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.SaveRun", start, err)
	}()

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	var layers sql.NullString
	if len(run.Layers) > 0 {
		data, err := json.Marshal(run.Layers)
		if err != nil {
			return fmt.Errorf("failed to marshal layer locations: %w", err)
		}
		layers = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO analysis_runs (`+runColumns+`)
		VALUES (:id, :started_at, :completed_at, :source, :technique_count, :summary, :layers)
	`, map[string]interface{}{
		"id":              run.ID,
		"started_at":      run.StartedAt,
		"completed_at":    run.CompletedAt,
		"source":          run.Source,
		"technique_count": run.TechniqueCount,
		"summary":         string(summary),
		"layers":          layers,
	})
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(run.TechniqueStats) > 0 {
		stats := make([]core.TechniqueStat, len(run.TechniqueStats))
		for i, st := range run.TechniqueStats {
			st.RunID = run.ID
			stats[i] = st
		}

		queryStart := time.Now()
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO technique_stats (
				run_id, technique_id, name, groups_count, mitigations_count,
				relationships_count, referenced_count
			) VALUES (
				:run_id, :technique_id, :name, :groups_count, :mitigations_count,
				:relationships_count, :referenced_count
			)
		`, stats)
		if err != nil {
			return fmt.Errorf("failed to insert technique stats: %w", err)
		}
		rows, _ := res.RowsAffected()
		s.logger.LogDatabaseOperation(ctx, "INSERT", "technique_stats", rows, time.Since(queryStart), "run_id", run.ID)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Infow("Run saved", "run_id", run.ID, "techniques", run.TechniqueCount)
	return nil
}

// GetRun loads a run with its technique stats
func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	run, err := row.toRun()
	if err != nil {
		return nil, err
	}

	stats, err := s.TechniqueStats(ctx, id)
	if err != nil {
		return nil, err
	}
	run.TechniqueStats = stats
	return run, nil
}

// LatestRun returns the most recently completed run
func (s *Store) LatestRun(ctx context.Context) (*core.Run, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM analysis_runs ORDER BY completed_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// ListRuns returns runs newest first, without technique stats
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM analysis_runs ORDER BY completed_at DESC LIMIT $1`, limit,
	); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*core.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// TechniqueStats returns the stats stored for a run, ordered by technique id
func (s *Store) TechniqueStats(ctx context.Context, runID string) ([]core.TechniqueStat, error) {
	stats := []core.TechniqueStat{}
	if err := s.db.SelectContext(ctx, &stats, `
		SELECT run_id, technique_id, name, groups_count, mitigations_count,
			relationships_count, referenced_count
		FROM technique_stats
		WHERE run_id = $1
		ORDER BY technique_id
	`, runID); err != nil {
		return nil, fmt.Errorf("failed to load technique stats: %w", err)
	}
	return stats, nil
}

// TechniqueHistory returns one technique's stats across runs, newest first
func (s *Store) TechniqueHistory(ctx context.Context, techniqueID string, limit int) ([]core.TechniqueStat, error) {
	if limit <= 0 {
		limit = 20
	}
	stats := []core.TechniqueStat{}
	if err := s.db.SelectContext(ctx, &stats, `
		SELECT ts.run_id, ts.technique_id, ts.name, ts.groups_count, ts.mitigations_count,
			ts.relationships_count, ts.referenced_count
		FROM technique_stats ts
		JOIN analysis_runs r ON r.id = ts.run_id
		WHERE ts.technique_id = $1
		ORDER BY r.completed_at DESC
		LIMIT $2
	`, techniqueID, limit); err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", techniqueID, err)
	}
	return stats, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (r runRow) toRun() (*core.Run, error) {
	run := &core.Run{
		ID:             r.ID,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		Source:         r.Source,
		TechniqueCount: r.TechniqueCount,
		Summary:        &analysis.Summary{},
	}

	if err := json.Unmarshal(r.Summary, run.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary of run %s: %w", r.ID, err)
	}
	if r.Layers.Valid && r.Layers.String != "" {
		if err := json.Unmarshal([]byte(r.Layers.String), &run.Layers); err != nil {
			return nil, fmt.Errorf("failed to decode layers of run %s: %w", r.ID, err)
		}
	}
	return run, nil
}
