package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/config"
	"github.com/sells-group/census-viz/internal/failure"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "census-viz",
	Short: "US Census block-group statistics and boundaries",
	Long:  "Fetches ACS 5-year block-group statistics and TIGER boundaries for a state, joins them by GEOID, and writes GeoJSON datasets and choropleth maps.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// errNoMatch signals a clean exit 1 with nothing further to report.
var errNoMatch = errors.New("no match")

func main() {
	os.Exit(execute(os.Stderr))
}

// execute runs the root command and maps its error to an exit status.
func execute(stderr io.Writer) int {
	err := rootCmd.Execute()
	if err == nil {
		return failure.ExitOK
	}
	if !errors.Is(err, errNoMatch) {
		reportError(stderr, err)
	}
	return failure.ExitCode(err)
}

// reportError prints the failure kind and context on one line.
func reportError(w io.Writer, err error) {
	if k, ok := failure.KindOf(err); ok {
		fmt.Fprintf(w, "census-viz: %s error: %v\n", k.Category(), err) //nolint:errcheck
		return
	}
	fmt.Fprintf(w, "census-viz: %v\n", err) //nolint:errcheck
}
