package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/census-viz/internal/fips"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup-state <query>",
	Short: "Find state FIPS codes by partial name or abbreviation",
	Long:  "Prints NAME, FIPS and ABBR for every state or territory whose name or postal abbreviation contains the query (case-insensitive). Exits 1 when nothing matches. With --all, lists the whole table.",
	Args: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			listStates(os.Stdout)
			return nil
		}
		return runLookup(os.Stdout, os.Stderr, strings.Join(args, " "))
	},
}

func init() {
	lookupCmd.Flags().Bool("all", false, "list every state and territory")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(out, errOut io.Writer, query string) error {
	matches := fips.Resolve(query)
	if len(matches) == 0 {
		_, _ = fmt.Fprintf(errOut, "No state matches %q.\n", query)
		return errNoMatch
	}
	formatStates(out, matches)
	return nil
}

// listStates writes the whole table ordered by name.
func listStates(out io.Writer) {
	formatStates(out, fips.All())
}

// formatStates writes one NAME<TAB>FIPS<TAB>ABBR line per state.
func formatStates(out io.Writer, states []fips.State) {
	for _, s := range states {
		_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", s.Name, s.FIPS, s.Abbr)
	}
}
