package join

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
)

func square(x, y float64) *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{{
		{x, y}, {x, y + 1}, {x + 1, y + 1}, {x + 1, y}, {x, y},
	}}})
}

func stat(id string, pop float64) model.StatRecord {
	return model.StatRecord{
		ID:     geoid.MustParse(id),
		Name:   "Block Group " + id[11:],
		Values: model.Values{"total_population": model.Float(pop), "median_income": nil},
	}
}

func boundary(id string, x float64) model.BoundaryRecord {
	return model.BoundaryRecord{ID: geoid.MustParse(id), Geometry: square(x, 0), LandArea: 100 * x}
}

func ids(recs []model.JoinedRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID.String()
	}
	return out
}

func TestJoin_Basic(t *testing.T) {
	stats := []model.StatRecord{
		stat("240030002001", 30),
		stat("240010001002", 20),
		stat("240010001001", 10),
	}
	bounds := []model.BoundaryRecord{
		boundary("240010001001", 1),
		boundary("240030002001", 3),
		boundary("240010001002", 2),
	}

	ds, sum, err := Join(stats, bounds)
	require.NoError(t, err)
	assert.Equal(t, []string{"240010001001", "240010001002", "240030002001"}, ids(ds.Records))
	assert.Equal(t, 3, sum.Joined)
	assert.Zero(t, sum.Dropped())

	r := ds.Records[0]
	assert.Equal(t, "Block Group 1", r.Name)
	assert.InDelta(t, 100.0, r.LandArea, 1e-9)
	v, ok := r.Values.Get("total_population")
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)
	assert.True(t, r.Values.Has("median_income"))
	assert.NotNil(t, r.Geometry)
}

func TestJoin_StatsOnlyDropped(t *testing.T) {
	stats := []model.StatRecord{stat("240010001001", 10), stat("240010001002", 20)}
	bounds := []model.BoundaryRecord{boundary("240010001001", 1)}

	ds, sum, err := Join(stats, bounds)
	require.NoError(t, err)
	assert.Equal(t, []string{"240010001001"}, ids(ds.Records))
	assert.Equal(t, 1, sum.StatsOnly)
	assert.Equal(t, []geoid.ID{geoid.MustParse("240010001002")}, sum.StatsOnlyIDs)

	// One more stats-only record bumps the count by one.
	_, sum2, err := Join(append(stats, stat("240010001003", 5)), bounds)
	require.NoError(t, err)
	assert.Equal(t, sum.StatsOnly+1, sum2.StatsOnly)
}

func TestJoin_BoundaryOnlyAndAllNull(t *testing.T) {
	empty := model.StatRecord{
		ID:     geoid.MustParse("240010001002"),
		Values: model.Values{"total_population": nil},
	}
	stats := []model.StatRecord{stat("240010001001", 10), empty}
	bounds := []model.BoundaryRecord{
		boundary("240010001001", 1),
		boundary("240010001002", 2),
		boundary("240010001003", 3),
		{ID: geoid.MustParse("240010001004")},
	}

	ds, sum, err := Join(stats, bounds)
	require.NoError(t, err)
	assert.Equal(t, []string{"240010001001"}, ids(ds.Records))
	assert.Equal(t, 1, sum.AllNull)
	assert.Equal(t, "240010001002", sum.AllNullIDs[0].String())
	// A boundary without geometry is not a usable boundary.
	assert.Equal(t, 1, sum.BoundaryOnly)
	assert.Equal(t, "240010001003", sum.BoundaryOnlyIDs[0].String())
	assert.Equal(t, 2, sum.Dropped())
}

func TestJoin_DuplicateStatsDropped(t *testing.T) {
	stats := []model.StatRecord{
		stat("240010001001", 10),
		stat("240010001002", 20),
		stat("240010001002", 21),
	}
	bounds := []model.BoundaryRecord{boundary("240010001001", 1), boundary("240010001002", 2)}

	ds, sum, err := Join(stats, bounds)
	require.NoError(t, err)
	assert.Equal(t, []string{"240010001001"}, ids(ds.Records))
	assert.Equal(t, 1, sum.DuplicateStats)
	assert.Zero(t, sum.BoundaryOnly)
}

func TestJoin_DuplicateBoundariesMerged(t *testing.T) {
	stats := []model.StatRecord{stat("240010001001", 10)}
	a := boundary("240010001001", 5)
	b := boundary("240010001001", 1)
	repeat := boundary("240010001001", 5)

	ds1, sum, err := Join(stats, []model.BoundaryRecord{a, b, repeat})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DuplicateBoundaries)

	g := ds1.Records[0].Geometry
	require.Equal(t, 2, g.NumPolygons())
	// Canonical order: the polygon with the smaller coordinates first.
	assert.Equal(t, geom.Coord{1, 0}, g.Polygon(0).LinearRing(0).Coord(0))
	assert.InDelta(t, 600.0, ds1.Records[0].LandArea, 1e-9)

	ds2, _, err := Join(stats, []model.BoundaryRecord{repeat, b, a})
	require.NoError(t, err)
	assert.Equal(t, ds1.Records[0].Geometry.FlatCoords(), ds2.Records[0].Geometry.FlatCoords())
	assert.Equal(t, ds1.Records[0].LandArea, ds2.Records[0].LandArea)
}

func TestJoin_Empty(t *testing.T) {
	ds, sum, err := Join([]model.StatRecord{stat("240010001001", 1)}, []model.BoundaryRecord{boundary("240010001002", 1)})
	require.Error(t, err)
	assert.Nil(t, ds)
	assert.True(t, failure.Is(err, failure.EmptyJoinResult))
	assert.Equal(t, 1, sum.StatsOnly)
	assert.Equal(t, 1, sum.BoundaryOnly)

	_, _, err = Join(nil, nil)
	assert.True(t, failure.Is(err, failure.EmptyJoinResult))
}

func TestJoin_CommutativeInInputOrder(t *testing.T) {
	var stats []model.StatRecord
	var bounds []model.BoundaryRecord
	for i, id := range []string{
		"240010001001", "240010001002", "240010002001", "240030001001",
		"240030001002", "240050101001", "240050101003", "241100001001",
	} {
		stats = append(stats, stat(id, float64(i)))
		bounds = append(bounds, boundary(id, float64(i)))
	}
	stats = append(stats, stat("249990000001", 1))
	bounds = append(bounds, boundary("249990000002", 2), boundary("240010001001", 40))

	want, wantSum, err := Join(stats, bounds)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		s := append([]model.StatRecord(nil), stats...)
		b := append([]model.BoundaryRecord(nil), bounds...)
		rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })

		got, gotSum, err := Join(s, b)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, wantSum, gotSum)
	}
}

func TestJoin_DoesNotAliasInputValues(t *testing.T) {
	stats := []model.StatRecord{stat("240010001001", 10)}
	ds, _, err := Join(stats, []model.BoundaryRecord{boundary("240010001001", 1)})
	require.NoError(t, err)

	*stats[0].Values["total_population"] = 99
	v, _ := ds.Records[0].Values.Get("total_population")
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestSummary_Fields(t *testing.T) {
	fields := Summary{Joined: 3, StatsOnly: 1}.Fields()
	assert.Len(t, fields, 6)
	assert.Equal(t, "joined", fields[0].Key)
}
