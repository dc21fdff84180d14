package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/metrics"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against the configured venue",
	Long: `Run performs the venue handshake and then one cycle every interval
until interrupted.

With venue.type sim the simulator advances one bar after every cycle,
then waits the interval, which makes run a paper-trading loop that stops
when the generated series is exhausted. With venue.type oanda the OANDA token and
account id come from the config or from SCALPER_OANDA_TOKEN and
SCALPER_OANDA_ACCOUNT.

Example:
  scalper run -f scalper.yaml --metrics-addr :9090`,
	RunE: runRun,
}

var (
	runMetricsAddr string
	runSimBars     int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	runCmd.Flags().IntVar(&runSimBars, "sim-bars", 10000, "bars generated for the simulated venue")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		venue broker.Venue
		next  func() bool
	)
	switch cfg.Venue.Type {
	case "oanda":
		c, err := a.oandaVenue()
		if err != nil {
			return fmt.Errorf("oanda: %w", err)
		}
		venue = c
	default:
		v, err := a.simVenue(runSimBars)
		if err != nil {
			return fmt.Errorf("sim: %w", err)
		}
		venue = v
		next = func() bool {
			if !v.Advance() {
				a.log.Warn("simulated series exhausted")
				return false
			}
			return true
		}
	}

	addr := cfg.Metrics.Addr
	if runMetricsAddr != "" {
		addr = runMetricsAddr
	}
	if addr != "" {
		srv := serveMetrics(addr, a)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	e, err := a.engine(venue)
	if err != nil {
		return err
	}
	a.log.Info("starting", "venue", cfg.Venue.Type, "instrument", cfg.Instrument, "timeframe", cfg.Timeframe)
	return e.RunStepped(ctx, next)
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	a.log.Info("serving metrics", "addr", addr)
	return srv
}
