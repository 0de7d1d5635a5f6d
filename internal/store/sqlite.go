package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/census-viz/internal/join"
	"github.com/sells-group/census-viz/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck,gosec
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS block_groups (
	geoid            TEXT NOT NULL,
	year             INTEGER NOT NULL,
	state            TEXT NOT NULL,
	boundary_vintage INTEGER NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	land_area        REAL NOT NULL DEFAULT 0,
	water_area       REAL NOT NULL DEFAULT 0,
	attributes       TEXT NOT NULL,
	geom             BLOB NOT NULL,
	PRIMARY KEY (geoid, year)
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id                   TEXT PRIMARY KEY,
	state                TEXT NOT NULL,
	year                 INTEGER NOT NULL,
	boundary_vintage     INTEGER NOT NULL,
	records              INTEGER NOT NULL,
	stats_only           INTEGER NOT NULL DEFAULT 0,
	boundary_only        INTEGER NOT NULL DEFAULT 0,
	all_null             INTEGER NOT NULL DEFAULT 0,
	duplicate_stats      INTEGER NOT NULL DEFAULT 0,
	duplicate_boundaries INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_block_groups_state_year ON block_groups(state, year);
CREATE INDEX IF NOT EXISTS idx_collection_runs_state_year ON collection_runs(state, year);
CREATE INDEX IF NOT EXISTS idx_collection_runs_created_at ON collection_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, ds *model.Dataset, sum join.Summary) (string, error) {
	rows, err := encodeRecords(ds)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM block_groups WHERE state = ? AND year = ?`,
		ds.StateFIPS, ds.Year,
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: clear %s/%d", ds.StateFIPS, ds.Year)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO block_groups (geoid, year, state, boundary_vintage, name, resolution, land_area, water_area, attributes, geom)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.GeoID, ds.Year, ds.StateFIPS, ds.BoundaryVintage, r.Name, r.Resolution,
			r.LandArea, r.WaterArea, string(r.Attributes), r.Geom,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert block group %s", r.GeoID)
		}
	}

	run := newRun(uuid.New().String(), ds, sum, s.now().UTC())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collection_runs (id, state, year, boundary_vintage, records, stats_only, boundary_only, all_null, duplicate_stats, duplicate_boundaries, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StateFIPS, run.Year, run.BoundaryVintage, run.Records,
		run.StatsOnly, run.BoundaryOnly, run.AllNull, run.DuplicateStats, run.DuplicateBoundaries, run.CreatedAt,
	); err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit")
	}
	return run.ID, nil
}

func (s *SQLiteStore) LoadDataset(ctx context.Context, state string, year int) (*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, boundary_vintage, name, resolution, land_area, water_area, attributes, geom
		 FROM block_groups WHERE state = ? AND year = ? ORDER BY geoid`,
		state, year,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load dataset")
	}
	defer rows.Close() //nolint:errcheck

	ds := &model.Dataset{StateFIPS: state, Year: year}
	for rows.Next() {
		var b bgRow
		var attrs string
		if err := rows.Scan(&b.GeoID, &ds.BoundaryVintage, &b.Name, &b.Resolution,
			&b.LandArea, &b.WaterArea, &attrs, &b.Geom); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan block group")
		}
		b.Attributes = []byte(attrs)
		rec, err := b.decode()
		if err != nil {
			return nil, err
		}
		ds.Records = append(ds.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: load dataset iterate")
	}
	if len(ds.Records) == 0 {
		return nil, eris.Errorf("dataset not found: state %s year %d", state, year)
	}
	ds.SortRecords()
	return ds, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, state, year, boundary_vintage, records, stats_only, boundary_only, all_null, duplicate_stats, duplicate_boundaries, created_at
		FROM collection_runs WHERE 1=1`
	var args []any

	if filter.StateFIPS != "" {
		query += ` AND state = ?`
		args = append(args, filter.StateFIPS)
	}
	if filter.Year != 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, runLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StateFIPS, &r.Year, &r.BoundaryVintage, &r.Records,
		&r.StatsOnly, &r.BoundaryOnly, &r.AllNull, &r.DuplicateStats, &r.DuplicateBoundaries, &r.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	return &r, nil
}
