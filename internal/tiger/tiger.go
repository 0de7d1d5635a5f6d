// Package tiger downloads Census block-group boundary shapefiles (TIGER/Line
// or cartographic boundary files) and streams them as BoundaryRecords.
package tiger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/model"
	"github.com/sells-group/census-viz/internal/resilience"
)

// DefaultBaseURL is the root of the Census geography file server.
const DefaultBaseURL = "https://www2.census.gov/geo/tiger"

// DefaultVintages is the range of vintages with per-state block-group files.
var DefaultVintages = model.YearRange{Min: 2011, Max: 2024}

// firstCartographicVintage is the first year block groups were published as
// cartographic boundary files.
const firstCartographicVintage = 2013

// Options configures a Client. Zero values take defaults.
type Options struct {
	BaseURL    string
	CacheDir   string
	Resolution model.Resolution
	Vintages   model.YearRange
	Retry      resilience.Policy
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(os.TempDir(), "census-viz", "tiger")
	}
	if o.Vintages == (model.YearRange{}) {
		o.Vintages = DefaultVintages
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultPolicy()
	}
	if o.Retry.OnRetry == nil {
		o.Retry.OnRetry = resilience.LogRetries("tiger", "download")
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return o
}

// Client fetches block-group boundaries.
type Client struct {
	opts Options
}

// New creates a Client.
func New(opts Options) *Client {
	return &Client{opts: opts.withDefaults()}
}

// FetchStats describes one boundary fetch.
type FetchStats struct {
	URL     string
	Cached  bool
	Records int
	// Skipped counts shapefile records with an invalid GEOID or no geometry.
	Skipped int
}

// URL returns the archive URL for a state and vintage at the client's
// resolution.
func (c *Client) URL(state string, vintage int) string {
	res := c.opts.Resolution
	if res == model.ResolutionFull {
		return fmt.Sprintf("%s/TIGER%d/BG/tl_%d_%s_bg.zip", c.opts.BaseURL, vintage, vintage, state)
	}
	dir := fmt.Sprintf("GENZ%d/shp", vintage)
	if vintage == firstCartographicVintage {
		dir = fmt.Sprintf("GENZ%d", vintage)
	}
	return fmt.Sprintf("%s/%s/cb_%d_%s_bg_%s.zip", c.opts.BaseURL, dir, vintage, state, res)
}

// Fetch downloads the state's block-group boundaries for vintage and hands
// each record to fn as it is parsed. An error from fn stops the fetch and is
// returned as is.
func (c *Client) Fetch(ctx context.Context, state string, vintage int, fn func(model.BoundaryRecord) error) (*FetchStats, error) {
	if err := c.Validate(state, vintage); err != nil {
		return nil, err
	}

	stats := &FetchStats{URL: c.URL(state, vintage)}
	log := zap.L().With(
		zap.String("component", "tiger"),
		zap.String("state", state),
		zap.Int("vintage", vintage),
		zap.String("resolution", resolutionName(c.opts.Resolution)),
	)

	destDir := filepath.Join(c.opts.CacheDir, strconv.Itoa(vintage), state)
	shpPath, cached, err := Download(ctx, c.opts.HTTPClient, c.opts.Retry, stats.URL, destDir)
	if err != nil {
		return nil, c.finish(ctx, err)
	}
	stats.Cached = cached

	read, skipped, err := ReadShapefile(ctx, shpPath, c.opts.Resolution, fn)
	stats.Records, stats.Skipped = read, skipped
	if err != nil {
		var he *handlerError
		if errors.As(err, &he) {
			return stats, he.err
		}
		return stats, c.finish(ctx, err)
	}

	log.Info("fetched block-group boundaries",
		zap.Int("records", read),
		zap.Int("skipped", skipped),
		zap.Bool("cached", cached),
	)
	return stats, nil
}

// FetchAll collects every record of Fetch into a slice.
func (c *Client) FetchAll(ctx context.Context, state string, vintage int) ([]model.BoundaryRecord, *FetchStats, error) {
	var out []model.BoundaryRecord
	stats, err := c.Fetch(ctx, state, vintage, func(r model.BoundaryRecord) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// Validate checks the request without touching the network.
func (c *Client) Validate(state string, vintage int) error {
	if _, err := model.CheckState(state); err != nil {
		return err
	}
	if err := c.opts.Vintages.CheckYear(vintage); err != nil {
		return err
	}
	if !c.opts.Resolution.Valid() {
		return eris.Errorf("tiger: unknown resolution %q", c.opts.Resolution)
	}
	if c.opts.Resolution != model.ResolutionFull && vintage < firstCartographicVintage {
		return failure.New(failure.UnsupportedYear,
			"cartographic block groups start in %d, got %d", firstCartographicVintage, vintage)
	}
	return nil
}

// finish classifies a fatal error: deadline into FetchTimeout, anything not
// yet classified into GeometrySourceUnavailable.
func (c *Client) finish(ctx context.Context, err error) error {
	if failure.Is(err, failure.FetchTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure.Wrap(failure.FetchTimeout, err, "boundary fetch timed out")
	}
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "tiger: fetch cancelled")
	}
	if _, ok := failure.KindOf(err); ok {
		return err
	}
	return failure.Wrap(failure.GeometrySourceUnavailable, err, "boundary source unreachable")
}

func resolutionName(r model.Resolution) string {
	if r == model.ResolutionFull {
		return "full"
	}
	return string(r)
}
