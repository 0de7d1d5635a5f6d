package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/join"
	"github.com/sells-group/census-viz/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testDataset(state string, year int) *model.Dataset {
	island := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{
			{{-76.5, 39.1}, {-76.5, 39.2}, {-76.4, 39.2}, {-76.4, 39.1}, {-76.5, 39.1}},
			{{-76.48, 39.12}, {-76.42, 39.12}, {-76.42, 39.18}, {-76.48, 39.18}, {-76.48, 39.12}},
		},
		{
			{{-76.3, 39.0}, {-76.3, 39.05}, {-76.25, 39.05}, {-76.25, 39.0}, {-76.3, 39.0}},
		},
	})
	block := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{
		{{-76.1, 39.3}, {-76.1, 39.4}, {-76.0, 39.4}, {-76.0, 39.3}, {-76.1, 39.3}},
	}})
	return &model.Dataset{
		StateFIPS:       state,
		Year:            year,
		BoundaryVintage: year,
		Records: []model.JoinedRecord{
			{
				ID:         geoid.MustParse(state + "0010001001"),
				Name:       "Block Group 1",
				Values:     model.Values{"total_population": model.Float(1204), "median_income": nil},
				Geometry:   island,
				Resolution: model.Resolution500k,
				LandArea:   1234567,
				WaterArea:  890,
			},
			{
				ID:         geoid.MustParse(state + "0010001002"),
				Name:       "Block Group 2",
				Values:     model.Values{"total_population": model.Float(37), "median_income": model.Float(61250)},
				Geometry:   block,
				Resolution: model.Resolution500k,
			},
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ds := testDataset("24", 2021)

		id, err := s.SaveDataset(ctx, ds, join.Summary{Joined: 2, StatsOnly: 3})
		require.NoError(t, err)
		assert.Len(t, id, 36)

		got, err := s.LoadDataset(ctx, "24", 2021)
		require.NoError(t, err)
		assert.Equal(t, ds, got)
	})

	t.Run("SaveReplacesSlice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.SaveDataset(ctx, testDataset("24", 2021), join.Summary{})
		require.NoError(t, err)

		smaller := testDataset("24", 2021)
		smaller.Records = smaller.Records[1:]
		_, err = s.SaveDataset(ctx, smaller, join.Summary{})
		require.NoError(t, err)

		got, err := s.LoadDataset(ctx, "24", 2021)
		require.NoError(t, err)
		require.Len(t, got.Records, 1)
		assert.Equal(t, "240010001002", got.Records[0].ID.String())
	})

	t.Run("SlicesAreIndependent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.SaveDataset(ctx, testDataset("24", 2021), join.Summary{})
		require.NoError(t, err)
		_, err = s.SaveDataset(ctx, testDataset("24", 2020), join.Summary{})
		require.NoError(t, err)
		_, err = s.SaveDataset(ctx, testDataset("10", 2021), join.Summary{})
		require.NoError(t, err)

		got, err := s.LoadDataset(ctx, "24", 2020)
		require.NoError(t, err)
		assert.Equal(t, 2020, got.Year)
		assert.Len(t, got.Records, 2)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadDataset(context.Background(), "24", 2021)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.SaveDataset(ctx, testDataset("24", 2021), join.Summary{Joined: 2, BoundaryOnly: 1})
		require.NoError(t, err)
		_, err = s.SaveDataset(ctx, testDataset("10", 2021), join.Summary{Joined: 2})
		require.NoError(t, err)

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 2)

		runs, err = s.ListRuns(ctx, RunFilter{StateFIPS: "24"})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		r := runs[0]
		assert.Equal(t, first, r.ID)
		assert.Equal(t, "24", r.StateFIPS)
		assert.Equal(t, 2021, r.Year)
		assert.Equal(t, 2021, r.BoundaryVintage)
		assert.Equal(t, 2, r.Records)
		assert.Equal(t, 1, r.BoundaryOnly)
		assert.False(t, r.CreatedAt.IsZero())

		runs, err = s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, runs, 1)

		runs, err = s.ListRuns(ctx, RunFilter{Year: 1999})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		s := newStore(t)
		ds := testDataset("24", 2021)
		ds.Records[0].Geometry = nil
		_, err := s.SaveDataset(context.Background(), ds, join.Summary{})
		assert.Error(t, err)
	})
}

func TestSQLiteStore_Suite(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestGeomCodec_RoundTrip(t *testing.T) {
	mp := testDataset("24", 2021).Records[0].Geometry

	b, err := encodeGeom(mp)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, 4269, g.SRID(), "boundaries are NAD83")
	assert.Equal(t, 0, mp.SRID())

	back, err := decodeGeom(b)
	require.NoError(t, err)
	assert.Equal(t, mp, back)
}

func TestGeomCodec_PromotesPolygon(t *testing.T) {
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}},
	})
	b, err := ewkb.Marshal(poly, ewkb.NDR)
	require.NoError(t, err)

	mp, err := decodeGeom(b)
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())
}

func TestGeomCodec_Errors(t *testing.T) {
	_, err := encodeGeom(nil)
	assert.Error(t, err)
	_, err = encodeGeom(geom.NewMultiPolygon(geom.XY))
	assert.Error(t, err)

	_, err = decodeGeom([]byte{0x01, 0x02})
	assert.Error(t, err)

	pt, err := ewkb.Marshal(geom.NewPointFlat(geom.XY, []float64{1, 2}), ewkb.NDR)
	require.NoError(t, err)
	_, err = decodeGeom(pt)
	assert.Error(t, err)
}

func TestNewRun(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ds := testDataset("24", 2021)
	r := newRun("abc", ds, join.Summary{StatsOnly: 1, AllNull: 2, DuplicateStats: 3, DuplicateBoundaries: 4}, now)
	assert.Equal(t, Run{
		ID: "abc", StateFIPS: "24", Year: 2021, BoundaryVintage: 2021, Records: 2,
		StatsOnly: 1, AllNull: 2, DuplicateStats: 3, DuplicateBoundaries: 4, CreatedAt: now,
	}, r)
	assert.Equal(t, 100, runLimit(RunFilter{}))
	assert.Equal(t, 5, runLimit(RunFilter{Limit: 5}))
}
