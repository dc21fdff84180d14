package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scalper",
	Short: "Intraday EMA/ATR scalping engine with position management",
	Long: `Scalper trades one instrument on bar closes.

Every cycle it:
  - reads bars, computes EMA and ATR, and fetches the current quote
  - manages open positions (initial stop, breakeven, partial close, trailing)
  - evaluates the trend or crossover signal once per new bar
  - sizes and submits an entry, falling through the configured fill modes

Venues: an in-memory simulator and the OANDA v3 REST API.`,
	SilenceUsage: true,
}

var configPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "path to config file (YAML or JSON); defaults apply when empty")
}
