package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/broker/oanda"
	"github.com/rustyeddy/scalper/broker/sim"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/engine"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/logging"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/signals"
)

// loadConfig reads configPath, or starts from the defaults plus the
// environment when no file was given.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is everything a command builds from the config and must close.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	journal journal.Journal
	closers []io.Closer
}

func newApp(cfg *config.Config) (*app, error) {
	log, lc, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.DBPath, cfg.Journal.OrdersFile, cfg.Journal.TradesFile)
	if err != nil {
		_ = lc.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &app{cfg: cfg, log: log, journal: j, closers: []io.Closer{j, lc}}, nil
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// simVenue builds the simulator loaded with a seeded random walk of n bars.
func (a *app) simVenue(n int) (*sim.Venue, error) {
	tf, err := market.ParseTimeframe(a.cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	sc := a.cfg.Venue.Sim
	meta := market.DefaultMeta(a.cfg.Instrument)
	v := sim.New(sim.Config{
		Instrument: a.cfg.Instrument,
		Meta:       meta,
		Balance:    sc.Balance,
		Spread:     sc.Spread,
		Seed:       sc.Seed,
	}, a.journal, a.log)
	v.Load(sim.RandomWalk(sim.WalkConfig{
		Seed:     sc.Seed,
		Bars:     n,
		Start:    sc.Start,
		Step:     sc.Step,
		Interval: tf.Duration(),
		Digits:   meta.Digits,
	}))
	// start with a full window so the first cycle can evaluate
	if err := v.Seek(a.cfg.Bars - 1); err != nil {
		return nil, fmt.Errorf("sim needs more than %d bars: %w", a.cfg.Bars, err)
	}
	return v, nil
}

func (a *app) oandaVenue() (*oanda.Client, error) {
	oc := a.cfg.Venue.Oanda
	return oanda.NewClient(oanda.Config{
		BaseURL:   oc.BaseURL,
		Token:     oc.Token,
		AccountID: oc.AccountID,
		Timeout:   oc.Timeout.Duration,
	}, a.log)
}

func (a *app) engine(v broker.Venue) (*engine.Engine, error) {
	opts, err := engineOptions(a.cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(opts, v, a.journal, a.log)
}

func engineOptions(cfg *config.Config) (engine.Options, error) {
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return engine.Options{}, err
	}
	policy, err := signals.PolicyByName(cfg.Signal.Policy)
	if err != nil {
		return engine.Options{}, err
	}
	entry, err := cfg.EntryConfig()
	if err != nil {
		return engine.Options{}, err
	}
	modes, err := cfg.FillModes()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Instrument:      cfg.Instrument,
		Timeframe:       tf,
		Bars:            cfg.Bars,
		Interval:        cfg.Interval.Duration,
		Indicators:      cfg.Indicators,
		Signal:          policy,
		Risk:            cfg.Risk,
		Entry:           entry,
		FillModes:       modes,
		Lifecycle:       cfg.Lifecycle,
		Deviation:       cfg.Entry.Deviation,
		Magic:           cfg.Entry.Magic,
		Comment:         cfg.Entry.Comment,
		StartupAttempts: cfg.Startup.Attempts,
		StartupDelay:    cfg.Startup.Delay.Duration,
	}, nil
}
