package cmd

import (
	"fmt"

	"github.com/rustyeddy/scalper/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  scalper config init -o scalper.yaml
  scalper config validate -f scalper.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "scalper.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  scalper sim -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	lc := cfg.Lifecycle
	fmt.Printf("✓ Configuration valid: %s\n", configPath)
	fmt.Printf("  Instrument: %s %s (%d bars, every %s)\n", cfg.Instrument, cfg.Timeframe, cfg.Bars, cfg.Interval.Duration)
	fmt.Printf("  Signal: %s, EMA %d/%d, ATR %d\n", cfg.Signal.Policy, cfg.Indicators.FastSpan, cfg.Indicators.SlowSpan, cfg.Indicators.ATRPeriod)
	fmt.Printf("  Entry: %s, fill modes %v\n", cfg.Entry.Mode, cfg.Entry.FillModes)
	fmt.Printf("  Lifecycle: breakeven=%t partial=%t trailing=%t dynamic_r=%t\n", lc.Breakeven, lc.PartialClose, lc.Trailing, lc.DynamicR)
	fmt.Printf("  Venue: %s, journal: %s\n", cfg.Venue.Type, cfg.Journal.Type)
	return nil
}
