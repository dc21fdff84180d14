package cmd

import (
	"fmt"
	"sort"

	"github.com/rustyeddy/scalper/engine"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/lifecycle"
)

func printSimSummary(sum simSummary, trades []journal.TradeRecord, start, end float64) {
	fmt.Printf("Cycles:   %d\n", sum.cycles)
	fmt.Printf("Entries:  %d\n", sum.entries)

	if len(sum.errors) > 0 {
		fmt.Println("Cycle errors:")
		for _, k := range []engine.Kind{
			engine.KindDataUnavailable,
			engine.KindInvalidRiskPlan,
			engine.KindOrderRejected,
			engine.KindAdapterFault,
		} {
			if n := sum.errors[k]; n > 0 {
				fmt.Printf("  %-18s %d\n", k.String(), n)
			}
		}
	}

	fmt.Println("Lifecycle actions:")
	for _, k := range []lifecycle.ActionKind{
		lifecycle.ActionInitialStop,
		lifecycle.ActionBreakeven,
		lifecycle.ActionPartialClose,
		lifecycle.ActionTrailing,
	} {
		fmt.Printf("  %-18s %d\n", k, sum.actions[k])
	}

	var wins, losses int
	var pl float64
	byReason := map[string]int{}
	for _, t := range trades {
		byReason[t.Reason]++
		pl += t.RealizedPL
		switch {
		case t.RealizedPL > 0:
			wins++
		case t.RealizedPL < 0:
			losses++
		}
	}
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	fmt.Printf("Closed fills: %d (wins %d, losses %d)\n", len(trades), wins, losses)
	for _, r := range reasons {
		fmt.Printf("  %-18s %d\n", r, byReason[r])
	}
	fmt.Printf("Realized P/L: %.2f\n", pl)
	fmt.Printf("Balance:      %.2f -> %.2f\n", start, end)
}
