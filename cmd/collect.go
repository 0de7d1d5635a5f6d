package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/census"
	"github.com/sells-group/census-viz/internal/config"
	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/fips"
	"github.com/sells-group/census-viz/internal/model"
	"github.com/sells-group/census-viz/internal/output"
	"github.com/sells-group/census-viz/internal/pipeline"
	"github.com/sells-group/census-viz/internal/resilience"
	"github.com/sells-group/census-viz/internal/tiger"
	"github.com/sells-group/census-viz/internal/viz"
)

var collectCmd = &cobra.Command{
	Use:   "collect <state>",
	Short: "Collect block-group statistics and boundaries for a state",
	Long: `Fetches ACS 5-year block-group statistics and TIGER boundaries for one state
and year, joins them by GEOID, and writes:

  {output-dir}/bg_{SS}_{YYYY}.geojson          the joined dataset
  {output-dir}/bg_{SS}_{YYYY}_{attribute}.*     a choropleth layer and HTML map

The state is a two-digit FIPS code; postal abbreviations and exact names are
accepted too. Re-running overwrites the files with identical content.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := parseCollectOpts(cmd, args, cfg)
		if err != nil {
			return err
		}
		return runCollect(ctx, cfg, opts, os.Stdout)
	},
}

func init() {
	collectCmd.Flags().Int("year", 0, "ACS 5-year release year (default: from config or 2021)")
	collectCmd.Flags().Int("boundary-year", 0, "boundary vintage (default: same as --year)")
	collectCmd.Flags().String("output-dir", "", "output directory (default: from config)")
	collectCmd.Flags().String("attribute", "", "attribute to map (default: total_population)")
	collectCmd.Flags().String("resolution", "", "boundary resolution: full or 500k (default: from config)")
	collectCmd.Flags().String("variables", "", "comma-separated ACS variable codes (default: built-in set)")
	collectCmd.Flags().Duration("timeout", 0, "per-fetch timeout (default: from config or 5m)")
	rootCmd.AddCommand(collectCmd)
}

// collectOpts is a collect invocation with flags resolved against config.
type collectOpts struct {
	State      string
	Year       int
	Vintage    int
	OutputDir  string
	Attribute  string
	Resolution model.Resolution
	Variables  []string
	Timeout    time.Duration
}

// parseCollectOpts resolves flags, falling back to config values.
func parseCollectOpts(cmd *cobra.Command, args []string, c *config.Config) (collectOpts, error) {
	year, _ := cmd.Flags().GetInt("year")
	vintage, _ := cmd.Flags().GetInt("boundary-year")
	outDir, _ := cmd.Flags().GetString("output-dir")
	attr, _ := cmd.Flags().GetString("attribute")
	resFlag, _ := cmd.Flags().GetString("resolution")
	varsFlag, _ := cmd.Flags().GetString("variables")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	o := collectOpts{
		State:     normalizeState(args[0]),
		Year:      year,
		Vintage:   vintage,
		OutputDir: outDir,
		Attribute: attr,
		Timeout:   timeout,
	}
	if o.Year == 0 {
		o.Year = c.Collect.Year
	}
	if o.Vintage == 0 {
		o.Vintage = o.Year
	}
	if o.OutputDir == "" {
		o.OutputDir = c.Collect.OutputDir
	}
	if o.Attribute == "" {
		o.Attribute = c.Collect.Attribute
	}
	if o.Timeout == 0 {
		o.Timeout = c.Collect.FetchTimeout
	}

	if varsFlag != "" {
		o.Variables = census.ParseVariables(varsFlag)
	} else if len(c.Collect.Variables) > 0 {
		o.Variables = census.ParseVariables(strings.Join(c.Collect.Variables, ","))
	}

	tc := c.Tiger
	if resFlag != "" {
		tc.Resolution = resFlag
	}
	res, err := tc.ParsedResolution()
	if err != nil {
		return collectOpts{}, err
	}
	o.Resolution = res

	return o, nil
}

// normalizeState maps "6", "CA" or "California" to "06". Anything else is
// passed through unchanged for the fetchers to reject.
func normalizeState(in string) string {
	if s, ok := fips.Normalize(in); ok {
		return s.FIPS
	}
	return strings.TrimSpace(in)
}

// newSources builds the statistics and boundary fetchers for a run.
var newSources = func(c *config.Config, res model.Resolution) (pipeline.StatsSource, pipeline.BoundarySource) {
	retry := resilience.NewPolicy(c.Retry.MaxAttempts, c.Retry.InitialBackoff, c.Retry.MaxBackoff)

	copts := census.Options{
		BaseURL:                c.Census.BaseURL,
		APIKey:                 c.APIKey,
		Years:                  c.Census.Years,
		MaxVariablesPerRequest: c.Census.MaxVariablesPerRequest,
		Concurrency:            c.Census.Concurrency,
		MaxFailedChunks:        c.Census.MaxFailedChunks,
		RequestsPerSecond:      c.Census.RequestsPerSecond,
		BreakerThreshold:       c.Census.BreakerThreshold,
		Retry:                  retry,
	}
	if c.Census.TimeoutSecs > 0 {
		copts.HTTPClient = &http.Client{Timeout: time.Duration(c.Census.TimeoutSecs) * time.Second}
	}

	topts := tiger.Options{
		BaseURL:    c.Tiger.BaseURL,
		CacheDir:   c.Tiger.CacheDir,
		Resolution: res,
		Vintages:   c.Tiger.Vintages,
		Retry:      retry,
	}
	if c.Tiger.TimeoutSecs > 0 {
		topts.HTTPClient = &http.Client{Timeout: time.Duration(c.Tiger.TimeoutSecs) * time.Second}
	}

	return census.New(copts), tiger.New(topts)
}

// collectReport is what a successful collect prints.
type collectReport struct {
	Dataset  string
	Layer    output.LayerFiles
	Records  int
	RunID    string
	Warnings []string
	Elapsed  time.Duration
}

func runCollect(ctx context.Context, c *config.Config, o collectOpts, out io.Writer) error {
	if err := c.Validate("collect"); err != nil {
		return failure.WithContext(err, o.State, o.Year)
	}

	log := zap.L().With(zap.String("command", "collect"))
	log.Info("starting collection",
		zap.String("state", o.State),
		zap.Int("year", o.Year),
		zap.Int("boundary_vintage", o.Vintage),
		zap.String("resolution", string(o.Resolution)),
		zap.Int("variables", len(o.Variables)),
	)

	stats, bounds := newSources(c, o.Resolution)
	collector := pipeline.NewCollector(stats, bounds, pipeline.Options{FetchTimeout: o.Timeout})

	res, err := collector.Collect(ctx, pipeline.Request{
		StateFIPS:       o.State,
		Year:            o.Year,
		BoundaryVintage: o.Vintage,
		Variables:       o.Variables,
	})
	if err != nil {
		return err
	}

	w := output.NewWriter(o.OutputDir)
	rep := collectReport{
		Records:  res.Dataset.Len(),
		Warnings: res.Warnings,
		Elapsed:  res.Elapsed,
	}
	if rep.Dataset, err = w.WriteDataset(res.Dataset); err != nil {
		return err
	}

	layer, err := viz.Build(res.Dataset, o.Attribute, viz.ScaleOptions{})
	if err != nil {
		return failure.WithContext(err, o.State, o.Year)
	}
	if rep.Layer, err = w.WriteLayer(res.Dataset, layer); err != nil {
		return err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
		if rep.RunID, err = st.SaveDataset(ctx, res.Dataset, res.Summary); err != nil {
			return err
		}
	}

	formatCollectReport(out, rep)
	return nil
}

// formatCollectReport writes the output paths and any warnings to w.
func formatCollectReport(out io.Writer, r collectReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Dataset:\t%s\n", r.Dataset)
	_, _ = fmt.Fprintf(w, "Layer:\t%s\n", r.Layer.GeoJSON)
	_, _ = fmt.Fprintf(w, "Map:\t%s\n", r.Layer.HTML)
	_, _ = fmt.Fprintf(w, "Block groups:\t%d\n", r.Records)
	if r.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	}
	if r.Elapsed > 0 {
		_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", r.Elapsed.Round(time.Millisecond))
	}
	for _, warn := range r.Warnings {
		_, _ = fmt.Fprintf(w, "Warning:\t%s\n", warn)
	}
	_ = w.Flush()
}
