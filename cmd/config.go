package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/census-viz/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long:  "Prints configuration after merging defaults, config.yaml, .env and CENSUS_* environment variables. Secrets are masked.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printConfig(os.Stdout, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func printConfig(out io.Writer, c *config.Config) error {
	b, err := c.YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
