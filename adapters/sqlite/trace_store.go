// Package sqlite persists posterior traces in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"racefit/domain/core"
	"racefit/internal/sampler"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	chains     INTEGER NOT NULL,
	draws      INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS params (
	run_id   TEXT NOT NULL REFERENCES runs(run_id),
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE TABLE IF NOT EXISTS chains (
	run_id    TEXT NOT NULL REFERENCES runs(run_id),
	chain     INTEGER NOT NULL,
	step_size REAL NOT NULL,
	PRIMARY KEY (run_id, chain)
);
CREATE TABLE IF NOT EXISTS draws (
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	chain       INTEGER NOT NULL,
	draw        INTEGER NOT NULL,
	divergent   INTEGER NOT NULL,
	tree_depth  INTEGER NOT NULL,
	accept      REAL NOT NULL,
	step_size   REAL NOT NULL,
	energy      REAL NOT NULL,
	log_density REAL NOT NULL,
	leapfrogs   INTEGER NOT NULL,
	PRIMARY KEY (run_id, chain, draw)
);
CREATE TABLE IF NOT EXISTS draw_values (
	run_id   TEXT NOT NULL REFERENCES runs(run_id),
	chain    INTEGER NOT NULL,
	draw     INTEGER NOT NULL,
	position INTEGER NOT NULL,
	value    REAL,
	PRIMARY KEY (run_id, chain, draw, position)
);`

// ErrRunNotFound is returned when a run id has no stored trace
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes one stored trace
type RunInfo struct {
	RunID     string `db:"run_id"`
	Chains    int    `db:"chains"`
	Draws     int    `db:"draws"`
	CreatedAt string `db:"created_at"`
}

// TraceStore is a SQLite-backed trace repository
type TraceStore struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and applies the schema
func Open(path string) (*TraceStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sqlx.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &TraceStore{db: db}, nil
}

// Close releases the connection
func (s *TraceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTrace writes every draw and its sampler stats in one transaction
func (s *TraceStore) SaveTrace(ctx context.Context, runID core.RunID, tr *sampler.Trace) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if core.ID(runID).IsEmpty() {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, chains, draws, created_at) VALUES (?, ?, ?, ?)`,
		string(runID), tr.NumChains(), tr.NumDraws(), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, name := range tr.Names {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO params (run_id, position, name) VALUES (?, ?, ?)`, string(runID), i, name,
		); err != nil {
			return fmt.Errorf("insert param %s: %w", name, err)
		}
	}
	for c, step := range tr.StepSizes {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chains (run_id, chain, step_size) VALUES (?, ?, ?)`, string(runID), c, step,
		); err != nil {
			return fmt.Errorf("insert chain %d: %w", c, err)
		}
	}

	drawStmt, err := tx.PreparexContext(ctx, `
		INSERT INTO draws (run_id, chain, draw, divergent, tree_depth, accept, step_size, energy, log_density, leapfrogs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer drawStmt.Close()
	valueStmt, err := tx.PreparexContext(ctx,
		`INSERT INTO draw_values (run_id, chain, draw, position, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer valueStmt.Close()

	for c, draws := range tr.Values {
		for d, values := range draws {
			st := tr.Stats[c][d]
			if _, err = drawStmt.ExecContext(ctx, string(runID), c, d,
				st.Divergent, st.TreeDepth, st.Accept, st.StepSize, st.Energy, st.LogDensity, st.Leapfrogs,
			); err != nil {
				return fmt.Errorf("insert draw %d/%d: %w", c, d, err)
			}
			for j, v := range values {
				if _, err = valueStmt.ExecContext(ctx, string(runID), c, d, j, v); err != nil {
					return fmt.Errorf("insert value %d/%d/%d: %w", c, d, j, err)
				}
			}
		}
	}
	return tx.Commit()
}

type drawRow struct {
	Chain int `db:"chain"`
	Draw  int `db:"draw"`
	sampler.DrawStats
}

type valueRow struct {
	Chain    int             `db:"chain"`
	Draw     int             `db:"draw"`
	Position int             `db:"position"`
	Value    sql.NullFloat64 `db:"value"`
}

// LoadTrace reassembles a stored trace. Adapted inverse metrics are not
// persisted.
func (s *TraceStore) LoadTrace(ctx context.Context, runID core.RunID) (*sampler.Trace, error) {
	var info RunInfo
	err := s.db.GetContext(ctx, &info,
		`SELECT run_id, chains, draws, created_at FROM runs WHERE run_id = ?`, string(runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var names []string
	if err := s.db.SelectContext(ctx, &names,
		`SELECT name FROM params WHERE run_id = ? ORDER BY position`, string(runID)); err != nil {
		return nil, err
	}
	tr := sampler.NewTrace(names, info.Chains)

	var steps []float64
	if err := s.db.SelectContext(ctx, &steps,
		`SELECT step_size FROM chains WHERE run_id = ? ORDER BY chain`, string(runID)); err != nil {
		return nil, err
	}
	copy(tr.StepSizes, steps)

	var draws []drawRow
	if err := s.db.SelectContext(ctx, &draws, `
		SELECT chain, draw, divergent, tree_depth, accept, step_size, energy, log_density, leapfrogs
		FROM draws WHERE run_id = ? ORDER BY chain, draw`, string(runID)); err != nil {
		return nil, err
	}
	for _, r := range draws {
		if r.Chain >= info.Chains {
			return nil, fmt.Errorf("draw for chain %d outside %d chains", r.Chain, info.Chains)
		}
		tr.Stats[r.Chain] = append(tr.Stats[r.Chain], r.DrawStats)
		tr.Values[r.Chain] = append(tr.Values[r.Chain], make([]float64, len(names)))
	}

	var values []valueRow
	if err := s.db.SelectContext(ctx, &values,
		`SELECT chain, draw, position, value FROM draw_values WHERE run_id = ?`, string(runID)); err != nil {
		return nil, err
	}
	for _, v := range values {
		if v.Chain >= len(tr.Values) || v.Draw >= len(tr.Values[v.Chain]) || v.Position >= len(names) {
			return nil, fmt.Errorf("value %d/%d/%d has no draw", v.Chain, v.Draw, v.Position)
		}
		x := v.Value.Float64
		if !v.Value.Valid {
			x = math.NaN()
		}
		tr.Values[v.Chain][v.Draw][v.Position] = x
	}
	return tr, nil
}

// Runs lists stored traces, newest first
func (s *TraceStore) Runs(ctx context.Context) ([]RunInfo, error) {
	var runs []RunInfo
	err := s.db.SelectContext(ctx, &runs,
		`SELECT run_id, chains, draws, created_at FROM runs ORDER BY created_at DESC, run_id DESC`)
	return runs, err
}
