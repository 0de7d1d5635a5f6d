// Package pipeline runs one collection: statistics and boundaries fetched
// concurrently, then derived, joined and stamped into a dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/census-viz/internal/census"
	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/join"
	"github.com/sells-group/census-viz/internal/model"
	"github.com/sells-group/census-viz/internal/tiger"
)

// StatsSource fetches block-group statistics. *census.Client implements it.
type StatsSource interface {
	Validate(state string, year int) error
	Fetch(ctx context.Context, state string, year int, variables []string) (*census.Result, error)
}

// BoundarySource fetches block-group boundaries. *tiger.Client implements it.
type BoundarySource interface {
	Validate(state string, vintage int) error
	FetchAll(ctx context.Context, state string, vintage int) ([]model.BoundaryRecord, *tiger.FetchStats, error)
}

// DefaultFetchTimeout bounds each fetch when Options leaves it unset.
const DefaultFetchTimeout = 5 * time.Minute

// Options configures a Collector.
type Options struct {
	// FetchTimeout bounds each of the two fetches separately.
	FetchTimeout time.Duration
}

// Request identifies one collection.
type Request struct {
	StateFIPS string
	Year      int
	// BoundaryVintage defaults to Year.
	BoundaryVintage int
	// Variables defaults to census.DefaultVariables.
	Variables []string
}

func (r Request) withDefaults() Request {
	if r.BoundaryVintage == 0 {
		r.BoundaryVintage = r.Year
	}
	if len(r.Variables) == 0 {
		r.Variables = census.DefaultVariables
	}
	return r
}

// Result is a collected dataset plus what happened along the way.
type Result struct {
	Dataset    *model.Dataset
	Summary    join.Summary
	Stats      *census.Result
	Boundaries *tiger.FetchStats
	// Warnings describe data left out without failing the run.
	Warnings []string
	Elapsed  time.Duration
}

// Collector wires the two fetchers to the joiner.
type Collector struct {
	stats  StatsSource
	bounds BoundarySource
	opts   Options
}

// NewCollector creates a Collector.
func NewCollector(stats StatsSource, bounds BoundarySource, opts Options) *Collector {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Collector{stats: stats, bounds: bounds, opts: opts}
}

// Collect fetches, joins and stamps the dataset for req. Both fetches must
// succeed; a fatal error from either stops the run before the join. Every
// returned failure carries the request's state and year.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	req = req.withDefaults()
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("state", req.StateFIPS),
		zap.Int("year", req.Year),
		zap.Int("boundary_vintage", req.BoundaryVintage),
	)
	fail := func(err error) error { return contextualize(err, req) }

	// Setup failures surface before any request is made.
	if err := c.stats.Validate(req.StateFIPS, req.Year); err != nil {
		return nil, fail(err)
	}
	if err := c.bounds.Validate(req.StateFIPS, req.BoundaryVintage); err != nil {
		return nil, fail(err)
	}

	start := time.Now()
	var (
		stats     *census.Result
		bounds    []model.BoundaryRecord
		bstats    *tiger.FetchStats
		statsErr  error
		boundsErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, c.opts.FetchTimeout)
		defer cancel()
		stats, statsErr = c.stats.Fetch(fctx, req.StateFIPS, req.Year, req.Variables)
		if statsErr != nil {
			statsErr = asTimeout(fctx, statsErr, "statistics")
		}
		return statsErr
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, c.opts.FetchTimeout)
		defer cancel()
		bounds, bstats, boundsErr = c.bounds.FetchAll(fctx, req.StateFIPS, req.BoundaryVintage)
		if boundsErr != nil {
			boundsErr = asTimeout(fctx, boundsErr, "boundary")
		}
		return boundsErr
	})
	if err := g.Wait(); err != nil {
		for _, other := range []error{statsErr, boundsErr} {
			if other != nil && other != err && !errors.Is(other, context.Canceled) {
				log.Warn("pipeline: both fetches failed", zap.Error(other))
			}
		}
		return nil, fail(err)
	}

	res := &Result{Stats: stats, Boundaries: bstats}
	if stats.Partial() || stats.Incomplete > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d of %d statistics chunks failed; %d block groups dropped as incomplete",
			len(stats.FailedChunks), stats.Chunks, stats.Incomplete))
		log.Warn("pipeline: partial statistics",
			zap.Int("failed_chunks", len(stats.FailedChunks)),
			zap.Int("chunks", stats.Chunks),
			zap.Int("incomplete", stats.Incomplete),
		)
	}
	if stats.Skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d statistics rows had an unusable geography", stats.Skipped))
	}
	if bstats != nil && bstats.Skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d boundary records had an invalid GEOID or no geometry", bstats.Skipped))
	}

	ds, sum, err := join.Join(census.Derive(stats.Records), bounds)
	res.Summary = sum
	if err != nil {
		log.Warn("pipeline: join produced nothing", sum.Fields()...)
		return nil, fail(err)
	}
	if sum.StatsOnly > 0 || sum.BoundaryOnly > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"join dropped %d statistics-only and %d boundary-only block groups",
			sum.StatsOnly, sum.BoundaryOnly))
	}
	ds.Stamp(req.StateFIPS, req.Year, req.BoundaryVintage)
	res.Dataset = ds
	res.Elapsed = time.Since(start)

	log.Info("pipeline: collected dataset",
		append(sum.Fields(), zap.Duration("elapsed", res.Elapsed), zap.Int("warnings", len(res.Warnings)))...,
	)
	return res, nil
}

// asTimeout classifies a fetch that ran into its own deadline.
func asTimeout(ctx context.Context, err error, what string) error {
	if failure.Is(err, failure.FetchTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(failure.FetchTimeout, err, "%s fetch timed out", what)
	}
	return err
}

// contextualize attaches the request to a failure, or wraps an unclassified
// error with it.
func contextualize(err error, req Request) error {
	if _, ok := failure.KindOf(err); ok {
		return failure.WithContext(err, req.StateFIPS, req.Year)
	}
	return eris.Wrapf(err, "pipeline: collect state %s year %d", req.StateFIPS, req.Year)
}
