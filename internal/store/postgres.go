package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/census-viz/internal/db"
	"github.com/sells-group/census-viz/internal/join"
	"github.com/sells-group/census-viz/internal/model"
)

const (
	pgBlockGroups = "census.block_groups"
	pgRuns        = "census.collection_runs"
)

// PostgresStore implements Store on PostGIS using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	s := &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS census;

CREATE TABLE IF NOT EXISTS census.block_groups (
	geoid            TEXT NOT NULL,
	year             INTEGER NOT NULL,
	state            TEXT NOT NULL,
	boundary_vintage INTEGER NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	land_area        DOUBLE PRECISION NOT NULL DEFAULT 0,
	water_area       DOUBLE PRECISION NOT NULL DEFAULT 0,
	attributes       JSONB NOT NULL,
	geom             geometry(MultiPolygon, 4269) NOT NULL,
	PRIMARY KEY (geoid, year)
);

CREATE INDEX IF NOT EXISTS idx_block_groups_state_year ON census.block_groups(state, year);
CREATE INDEX IF NOT EXISTS idx_block_groups_geom ON census.block_groups USING GIST (geom);

CREATE TABLE IF NOT EXISTS census.collection_runs (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	state                TEXT NOT NULL,
	year                 INTEGER NOT NULL,
	boundary_vintage     INTEGER NOT NULL,
	records              INTEGER NOT NULL,
	stats_only           INTEGER NOT NULL DEFAULT 0,
	boundary_only        INTEGER NOT NULL DEFAULT 0,
	all_null             INTEGER NOT NULL DEFAULT 0,
	duplicate_stats      INTEGER NOT NULL DEFAULT 0,
	duplicate_boundaries INTEGER NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_collection_runs_state_year ON census.collection_runs(state, year);
CREATE INDEX IF NOT EXISTS idx_collection_runs_created_at ON census.collection_runs(created_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveDataset(ctx context.Context, ds *model.Dataset, sum join.Summary) (string, error) {
	encoded, err := encodeRecords(ds)
	if err != nil {
		return "", err
	}
	rows := make([][]any, len(encoded))
	for i, r := range encoded {
		rows[i] = r.values(ds)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM census.block_groups WHERE state = $1 AND year = $2`,
		ds.StateFIPS, ds.Year,
	); err != nil {
		return "", eris.Wrapf(err, "postgres: clear %s/%d", ds.StateFIPS, ds.Year)
	}

	if _, err := db.CopyFrom(ctx, tx, pgBlockGroups, blockGroupColumns, rows); err != nil {
		return "", eris.Wrap(err, "postgres: copy block groups")
	}

	run := newRun(uuid.New().String(), ds, sum, s.now().UTC())
	if _, err := tx.Exec(ctx,
		`INSERT INTO census.collection_runs (id, state, year, boundary_vintage, records, stats_only, boundary_only, all_null, duplicate_stats, duplicate_boundaries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.StateFIPS, run.Year, run.BoundaryVintage, run.Records,
		run.StatsOnly, run.BoundaryOnly, run.AllNull, run.DuplicateStats, run.DuplicateBoundaries, run.CreatedAt,
	); err != nil {
		return "", eris.Wrap(err, "postgres: insert run")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit")
	}
	return run.ID, nil
}

func (s *PostgresStore) LoadDataset(ctx context.Context, state string, year int) (*model.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, boundary_vintage, name, resolution, land_area, water_area, attributes, ST_AsEWKB(geom)
		 FROM census.block_groups WHERE state = $1 AND year = $2 ORDER BY geoid`,
		state, year,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load dataset")
	}
	defer rows.Close()

	ds := &model.Dataset{StateFIPS: state, Year: year}
	for rows.Next() {
		var b bgRow
		if err := rows.Scan(&b.GeoID, &ds.BoundaryVintage, &b.Name, &b.Resolution,
			&b.LandArea, &b.WaterArea, &b.Attributes, &b.Geom); err != nil {
			return nil, eris.Wrap(err, "postgres: scan block group")
		}
		rec, err := b.decode()
		if err != nil {
			return nil, err
		}
		ds.Records = append(ds.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: load dataset iterate")
	}
	if len(ds.Records) == 0 {
		return nil, eris.Errorf("dataset not found: state %s year %d", state, year)
	}
	ds.SortRecords()
	return ds, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, state, year, boundary_vintage, records, stats_only, boundary_only, all_null, duplicate_stats, duplicate_boundaries, created_at
		FROM census.collection_runs WHERE 1=1`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StateFIPS != "" {
		query += ` AND state = ` + next(filter.StateFIPS)
	}
	if filter.Year != 0 {
		query += ` AND year = ` + next(filter.Year)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ` + next(runLimit(filter))
	if filter.Offset > 0 {
		query += ` OFFSET ` + next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
