// Package join merges block-group statistics with their boundaries.
package join

import (
	"cmp"
	"slices"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
)

// Summary reports what the join kept and what it dropped. ID lists are
// sorted.
type Summary struct {
	Joined int

	// StatsOnly are statistics with no boundary.
	StatsOnly    int
	StatsOnlyIDs []geoid.ID
	// BoundaryOnly are boundaries with no statistics.
	BoundaryOnly    int
	BoundaryOnlyIDs []geoid.ID
	// AllNull are matched block groups whose every value is null.
	AllNull    int
	AllNullIDs []geoid.ID
	// DuplicateStats are IDs seen on more than one statistics record. All
	// copies are dropped.
	DuplicateStats    int
	DuplicateStatsIDs []geoid.ID
	// DuplicateBoundaries are IDs seen on more than one boundary record.
	// Their polygons are merged.
	DuplicateBoundaries  int
	DuplicateBoundaryIDs []geoid.ID
}

// Dropped is the number of block groups left out of the dataset.
func (s Summary) Dropped() int {
	return s.StatsOnly + s.BoundaryOnly + s.AllNull + s.DuplicateStats
}

// Fields returns the counts as zap fields.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("joined", s.Joined),
		zap.Int("stats_only", s.StatsOnly),
		zap.Int("boundary_only", s.BoundaryOnly),
		zap.Int("all_null", s.AllNull),
		zap.Int("duplicate_stats", s.DuplicateStats),
		zap.Int("duplicate_boundaries", s.DuplicateBoundaries),
	}
}

// Join pairs each statistics record with the boundary of the same block
// group. The result is sorted by ID and does not depend on input order.
// Returns an EmptyJoinResult failure, along with the summary, when nothing
// survives.
func Join(stats []model.StatRecord, boundaries []model.BoundaryRecord) (*model.Dataset, Summary, error) {
	var sum Summary

	index := indexBoundaries(boundaries, &sum)

	statCount := make(map[geoid.ID]int, len(stats))
	for _, s := range stats {
		statCount[s.ID]++
	}

	dupSeen := make(map[geoid.ID]bool)
	ds := &model.Dataset{Records: make([]model.JoinedRecord, 0, len(stats))}
	for _, s := range stats {
		if n := statCount[s.ID]; n > 1 {
			if !dupSeen[s.ID] {
				dupSeen[s.ID] = true
				sum.DuplicateStatsIDs = append(sum.DuplicateStatsIDs, s.ID)
			}
			continue
		}
		b, ok := index[s.ID]
		if !ok {
			sum.StatsOnlyIDs = append(sum.StatsOnlyIDs, s.ID)
			continue
		}
		if s.Values.AllNull() {
			sum.AllNullIDs = append(sum.AllNullIDs, s.ID)
			continue
		}
		ds.Records = append(ds.Records, model.JoinedRecord{
			ID:         s.ID,
			Name:       s.Name,
			Values:     s.Values.Clone(),
			Geometry:   b.Geometry,
			Resolution: b.Resolution,
			LandArea:   b.LandArea,
			WaterArea:  b.WaterArea,
		})
	}
	for id := range index {
		if _, ok := statCount[id]; !ok {
			sum.BoundaryOnlyIDs = append(sum.BoundaryOnlyIDs, id)
		}
	}

	ds.SortRecords()
	for _, ids := range []*[]geoid.ID{
		&sum.StatsOnlyIDs, &sum.BoundaryOnlyIDs, &sum.AllNullIDs,
		&sum.DuplicateStatsIDs, &sum.DuplicateBoundaryIDs,
	} {
		slices.SortFunc(*ids, geoid.ID.Compare)
	}
	sum.Joined = len(ds.Records)
	sum.StatsOnly = len(sum.StatsOnlyIDs)
	sum.BoundaryOnly = len(sum.BoundaryOnlyIDs)
	sum.AllNull = len(sum.AllNullIDs)
	sum.DuplicateStats = len(sum.DuplicateStatsIDs)
	sum.DuplicateBoundaries = len(sum.DuplicateBoundaryIDs)

	if sum.Joined == 0 {
		return nil, sum, failure.New(failure.EmptyJoinResult,
			"no block group has both statistics and a boundary (%d statistics, %d boundaries)",
			len(stats), len(boundaries))
	}
	return ds, sum, nil
}

// indexBoundaries keys boundaries by ID, merging duplicates. Records without
// geometry are ignored.
func indexBoundaries(boundaries []model.BoundaryRecord, sum *Summary) map[geoid.ID]model.BoundaryRecord {
	groups := make(map[geoid.ID][]model.BoundaryRecord, len(boundaries))
	for _, b := range boundaries {
		if b.Geometry == nil || b.Geometry.NumPolygons() == 0 {
			continue
		}
		groups[b.ID] = append(groups[b.ID], b)
	}

	index := make(map[geoid.ID]model.BoundaryRecord, len(groups))
	for id, g := range groups {
		if len(g) == 1 {
			index[id] = g[0]
			continue
		}
		sum.DuplicateBoundaryIDs = append(sum.DuplicateBoundaryIDs, id)
		index[id] = mergeBoundaries(g)
	}
	return index
}

// mergeBoundaries combines the polygons of records sharing an ID into one
// MultiPolygon. Records and polygons are put in coordinate order and exact
// repeats are kept once, so the result does not depend on record order.
// Areas are summed over distinct records.
func mergeBoundaries(group []model.BoundaryRecord) model.BoundaryRecord {
	group = slices.Clone(group)
	slices.SortFunc(group, func(a, b model.BoundaryRecord) int {
		if c := compareFlat(a.Geometry.FlatCoords(), b.Geometry.FlatCoords()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.LandArea, b.LandArea); c != 0 {
			return c
		}
		if c := cmp.Compare(a.WaterArea, b.WaterArea); c != 0 {
			return c
		}
		return cmp.Compare(a.Resolution, b.Resolution)
	})

	out := model.BoundaryRecord{ID: group[0].ID, Resolution: group[0].Resolution}
	type part struct {
		coords [][]geom.Coord
		flat   []float64
	}
	var parts []part
	for i, b := range group {
		if i > 0 && compareFlat(group[i-1].Geometry.FlatCoords(), b.Geometry.FlatCoords()) == 0 {
			continue
		}
		out.LandArea += b.LandArea
		out.WaterArea += b.WaterArea
		for j := 0; j < b.Geometry.NumPolygons(); j++ {
			p := b.Geometry.Polygon(j)
			parts = append(parts, part{coords: p.Coords(), flat: p.FlatCoords()})
		}
	}

	slices.SortFunc(parts, func(a, b part) int {
		return compareFlat(a.flat, b.flat)
	})
	coords := make([][][]geom.Coord, 0, len(parts))
	for i, p := range parts {
		if i > 0 && compareFlat(parts[i-1].flat, p.flat) == 0 {
			continue
		}
		coords = append(coords, p.coords)
	}

	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		zap.L().Warn("join: merge duplicate boundaries, keeping first",
			zap.String("geoid", out.ID.String()),
			zap.Error(err),
		)
		return group[0]
	}
	out.Geometry = mp
	return out
}

func compareFlat(a, b []float64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}
