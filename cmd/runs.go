package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/census-viz/internal/fips"
	"github.com/sells-group/census-viz/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved collection runs",
	Long:  "Lists collection runs recorded in the configured store, newest first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, _ := cmd.Flags().GetString("state")
		year, _ := cmd.Flags().GetInt("year")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{Year: year, Limit: limit}
		if state != "" {
			filter.StateFIPS = normalizeState(state)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("state", "", "filter by state (FIPS code or abbreviation)")
	runsCmd.Flags().Int("year", 0, "filter by ACS year")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tYEAR\tVINTAGE\tRECORDS\tDROPPED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t-------\t-------\t-------\t-------")

	for _, r := range runs {
		state := r.StateFIPS
		if s, ok := fips.Lookup(r.StateFIPS); ok {
			state = s.Abbr + " (" + s.FIPS + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			truncateID(r.ID),
			state,
			r.Year,
			r.BoundaryVintage,
			r.Records,
			r.StatsOnly+r.BoundaryOnly+r.AllNull,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
