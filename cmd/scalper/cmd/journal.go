package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/scalper/id"
	"github.com/rustyeddy/scalper/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the SQLite journal",
	Long: `Query requests and closed trades recorded in the SQLite journal.

Subcommands:
  orders - Every request sent for a ticket
  today  - Trades closed today
  day    - Trades closed on a specific day

Examples:
  scalper journal orders 01HV3K...
  scalper journal day 2024-01-15`,
}

var journalOrdersCmd = &cobra.Command{
	Use:   "orders <ticket>",
	Short: "List every request sent for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalOrders,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTradesOn(time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTradesOn(args[0])
	},
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOrdersCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./scalper.db", "path to SQLite journal DB")
}

func runJournalOrders(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.OrdersByTicket(args[0])
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}

	// simulated tickets are ULIDs stamped at opening; venue ids are not
	if opened, err := id.Time(args[0]); err == nil {
		fmt.Printf("ticket %s opened %s\n", args[0], opened.Format(time.RFC3339))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tREASON\tSIDE\tVOLUME\tPRICE\tSTOP\tTARGET\tMODE\tACCEPTED\tCODE\tMESSAGE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%g\t%g\t%g\t%s\t%t\t%d\t%s\n",
			r.Time.Format(time.RFC3339), r.Kind, r.Reason, r.Side, r.Volume, r.Price, r.Stop, r.Target,
			r.FillMode, r.Accepted, r.Code, r.Message)
	}
	return w.Flush()
}

func listTradesOn(day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.TradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	var total float64
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLOSED\tTICKET\tSIDE\tVOLUME\tENTRY\tEXIT\tP/L\tREASON")
	for _, r := range recs {
		total += r.RealizedPL
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%g\t%g\t%.2f\t%s\n",
			r.CloseTime.In(time.Local).Format("15:04:05"), r.Ticket, r.Side, r.Volume,
			r.EntryPrice, r.ExitPrice, r.RealizedPL, r.Reason)
	}
	fmt.Fprintf(w, "\t\t\t\t\t\t%.2f\t\n", total)
	return w.Flush()
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
