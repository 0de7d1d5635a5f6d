// Package model holds the records that flow between the fetchers, the joiner
// and the visualization builder.
package model

import (
	"sort"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/census-viz/internal/geoid"
)

// Resolution is the boundary simplification level.
type Resolution string

const (
	// ResolutionFull is the full-detail TIGER/Line geometry.
	ResolutionFull Resolution = ""
	// Resolution500k is the 1:500,000 cartographic boundary file, the only
	// cartographic scale published for block groups.
	Resolution500k Resolution = "500k"
)

// Valid reports whether r is a published block-group simplification level.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionFull, Resolution500k:
		return true
	}
	return false
}

// Values maps attribute names to values. A nil pointer means the source
// reported the value as unavailable.
type Values map[string]*float64

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Get returns the value of attr and whether it is present and non-null.
func (v Values) Get(attr string) (float64, bool) {
	p, ok := v[attr]
	if !ok || p == nil {
		return 0, false
	}
	return *p, true
}

// Has reports whether attr is present, null or not.
func (v Values) Has(attr string) bool {
	_, ok := v[attr]
	return ok
}

// AllNull reports whether every value is null. An empty map is all-null.
func (v Values) AllNull() bool {
	for _, p := range v {
		if p != nil {
			return false
		}
	}
	return true
}

// Keys returns the attribute names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, p := range v {
		if p != nil {
			out[k] = Float(*p)
		} else {
			out[k] = nil
		}
	}
	return out
}

// StatRecord is one block group's statistics as reassembled by the
// statistics fetcher.
type StatRecord struct {
	ID     geoid.ID
	Name   string
	Values Values
}

// BoundaryRecord is one block group's polygon geometry.
type BoundaryRecord struct {
	ID         geoid.ID
	Geometry   *geom.MultiPolygon
	Resolution Resolution
	LandArea   float64 // ALAND, square meters
	WaterArea  float64 // AWATER, square meters
}

// JoinedRecord pairs statistics with geometry. Records produced by the joiner
// always have a non-empty geometry and at least one non-null value.
type JoinedRecord struct {
	ID         geoid.ID
	Name       string
	Values     Values
	Geometry   *geom.MultiPolygon
	Resolution Resolution
	LandArea   float64
	WaterArea  float64
}
