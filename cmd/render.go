package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/config"
	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/model"
	"github.com/sells-group/census-viz/internal/output"
	"github.com/sells-group/census-viz/internal/viz"
)

var renderCmd = &cobra.Command{
	Use:   "render [dataset.geojson]",
	Short: "Rebuild a choropleth layer from a collected dataset",
	Long: `Writes the GeoJSON layer and HTML map for an attribute without touching the network.

The dataset is read from a file written by collect, or, with --state and --year
and no file argument, from the configured store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := renderOpts{}
		if len(args) == 1 {
			o.Path = args[0]
		}
		o.State, _ = cmd.Flags().GetString("state")
		o.Year, _ = cmd.Flags().GetInt("year")
		o.Attribute, _ = cmd.Flags().GetString("attribute")
		o.OutputDir, _ = cmd.Flags().GetString("output-dir")
		return runRender(cmd.Context(), cfg, o, os.Stdout)
	},
}

func init() {
	renderCmd.Flags().String("attribute", "", "attribute to map (default: from config)")
	renderCmd.Flags().String("output-dir", "", "output directory (default: the dataset's directory, or collect.output_dir for the store)")
	renderCmd.Flags().String("state", "", "load this state from the store (FIPS code or abbreviation)")
	renderCmd.Flags().Int("year", 0, "ACS year to load from the store")
	rootCmd.AddCommand(renderCmd)
}

type renderOpts struct {
	Path      string
	State     string
	Year      int
	Attribute string
	OutputDir string
}

func runRender(ctx context.Context, c *config.Config, o renderOpts, out io.Writer) error {
	rc := *c
	if o.Attribute != "" {
		rc.Collect.Attribute = o.Attribute
	}
	if err := rc.Validate("render"); err != nil {
		return err
	}
	attribute := rc.Collect.Attribute

	ds, err := loadRenderDataset(ctx, &rc, o)
	if err != nil {
		return err
	}

	outDir := o.OutputDir
	if outDir == "" {
		if o.Path != "" {
			outDir = filepath.Dir(o.Path)
		} else {
			outDir = rc.Collect.OutputDir
		}
	}

	layer, err := viz.Build(ds, attribute, viz.ScaleOptions{})
	if err != nil {
		if k, ok := failure.KindOf(err); ok && k == failure.UnknownAttribute {
			zap.L().Info("available attributes", zap.Strings("attributes", ds.Attributes()))
		}
		return failure.WithContext(err, ds.StateFIPS, ds.Year)
	}

	files, err := output.NewWriter(outDir).WriteLayer(ds, layer)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Layer: %s\nMap:   %s\n", files.GeoJSON, files.HTML)
	return nil
}

// loadRenderDataset reads the dataset from o.Path or, without a path, from
// the store slice named by o.State and o.Year.
func loadRenderDataset(ctx context.Context, c *config.Config, o renderOpts) (*model.Dataset, error) {
	fromStore := o.State != "" || o.Year != 0
	switch {
	case o.Path != "" && fromStore:
		return nil, eris.New("render: give a dataset file or --state/--year, not both")
	case o.Path != "":
		return output.ReadDataset(o.Path)
	case o.State == "" || o.Year == 0:
		return nil, eris.New("render: a dataset file or both --state and --year are required")
	}

	if err := c.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	state := normalizeState(o.State)
	ds, err := st.LoadDataset(ctx, state, o.Year)
	if err != nil {
		return nil, eris.Wrapf(err, "render: load state %s year %d", state, o.Year)
	}
	zap.L().Info("loaded dataset from store",
		zap.String("command", "render"),
		zap.String("state", state),
		zap.Int("year", o.Year),
		zap.Int("records", ds.Len()),
	)
	return ds, nil
}
