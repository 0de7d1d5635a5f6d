// Package store persists collected datasets and the collection run log.
package store

import (
	"context"
	"time"

	"github.com/sells-group/census-viz/internal/join"
	"github.com/sells-group/census-viz/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	StateFIPS string `json:"state,omitempty"`
	Year      int    `json:"year,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Run is one saved collection.
type Run struct {
	ID                  string    `json:"id"`
	StateFIPS           string    `json:"state"`
	Year                int       `json:"year"`
	BoundaryVintage     int       `json:"boundary_vintage"`
	Records             int       `json:"records"`
	StatsOnly           int       `json:"stats_only"`
	BoundaryOnly        int       `json:"boundary_only"`
	AllNull             int       `json:"all_null"`
	DuplicateStats      int       `json:"duplicate_stats"`
	DuplicateBoundaries int       `json:"duplicate_boundaries"`
	CreatedAt           time.Time `json:"created_at"`
}

// Store defines the persistence interface for collected datasets.
type Store interface {
	// SaveDataset replaces the (state, year) slice with ds and logs a run.
	// Saving the same dataset twice leaves the same rows behind.
	SaveDataset(ctx context.Context, ds *model.Dataset, sum join.Summary) (string, error)
	// LoadDataset returns the saved (state, year) slice sorted by ID.
	LoadDataset(ctx context.Context, state string, year int) (*model.Dataset, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func newRun(id string, ds *model.Dataset, sum join.Summary, now time.Time) Run {
	return Run{
		ID:                  id,
		StateFIPS:           ds.StateFIPS,
		Year:                ds.Year,
		BoundaryVintage:     ds.BoundaryVintage,
		Records:             ds.Len(),
		StatsOnly:           sum.StatsOnly,
		BoundaryOnly:        sum.BoundaryOnly,
		AllNull:             sum.AllNull,
		DuplicateStats:      sum.DuplicateStats,
		DuplicateBoundaries: sum.DuplicateBoundaries,
		CreatedAt:           now,
	}
}

func runLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
