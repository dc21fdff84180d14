package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/scalper/engine"
	"github.com/rustyeddy/scalper/lifecycle"
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Replay a seeded random walk through the engine as fast as possible",
	Long: `Sim generates a reproducible random walk, advances the simulated venue
one bar at a time and runs one cycle per bar. Stops, targets and pending
orders are honoured on every bar. A summary is printed at the end.

Example:
  scalper sim -f scalper.yaml --bars 5000 --seed 42`,
	RunE: runSim,
}

var (
	simBars int
	simSeed int64
)

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().IntVar(&simBars, "bars", 2000, "number of bars to generate")
	simCmd.Flags().Int64Var(&simSeed, "seed", 0, "random walk seed (overrides venue.sim.seed when non-zero)")
}

type simSummary struct {
	cycles  int
	errors  map[engine.Kind]int
	entries int
	actions map[lifecycle.ActionKind]int
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Venue.Type = "sim"
	if simSeed != 0 {
		cfg.Venue.Sim.Seed = simSeed
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.simVenue(simBars)
	if err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	e, err := a.engine(v)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	sum := simSummary{
		errors:  map[engine.Kind]int{},
		actions: map[lifecycle.ActionKind]int{},
	}
	for {
		out, err := e.RunCycle(ctx)
		sum.cycles++
		var ce *engine.CycleError
		if errors.As(err, &ce) {
			sum.errors[ce.Kind]++
		}
		if out.Entered() {
			sum.entries++
		}
		for _, act := range out.Actions {
			if act.Accepted {
				sum.actions[act.Kind]++
			}
		}
		if !v.Advance() {
			break
		}
	}

	balance, err := v.AccountBalance(ctx)
	if err != nil {
		return err
	}
	printSimSummary(sum, v.ClosedTrades(), cfg.Venue.Sim.Balance, balance)
	return nil
}
