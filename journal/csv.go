package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

type CSVJournal struct {
	orders *csv.Writer
	trades *csv.Writer
	of, tf *os.File
}

func NewCSV(ordersPath, tradesPath string) (*CSVJournal, error) {
	if ordersPath == "" || tradesPath == "" {
		return nil, fmt.Errorf("csv journal: orders and trades paths are required")
	}
	of, err := os.Create(ordersPath)
	if err != nil {
		return nil, err
	}
	tf, err := os.Create(tradesPath)
	if err != nil {
		_ = of.Close()
		return nil, err
	}

	ow := csv.NewWriter(of)
	tw := csv.NewWriter(tf)

	if err := ow.Write([]string{"time", "instrument", "kind", "reason", "ticket", "side", "volume", "price", "stop", "target", "fill_mode", "accepted", "code", "message"}); err != nil {
		return nil, err
	}
	if err := tw.Write([]string{"ticket", "instrument", "side", "volume", "entry_price", "exit_price", "open_time", "close_time", "realized_pl", "reason"}); err != nil {
		return nil, err
	}

	ow.Flush()
	if err := ow.Error(); err != nil {
		return nil, err
	}
	tw.Flush()
	if err := tw.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{ow, tw, of, tf}, nil
}

func (j *CSVJournal) RecordOrder(o OrderRecord) error {
	err := j.orders.Write([]string{
		o.Time.UTC().Format(time.RFC3339),
		o.Instrument,
		o.Kind,
		o.Reason,
		o.Ticket,
		o.Side,
		f(o.Volume),
		f(o.Price),
		f(o.Stop),
		f(o.Target),
		o.FillMode,
		strconv.FormatBool(o.Accepted),
		strconv.Itoa(o.Code),
		o.Message,
	})
	if err != nil {
		return err
	}
	j.orders.Flush()
	return j.orders.Error()
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	err := j.trades.Write([]string{
		t.Ticket,
		t.Instrument,
		t.Side,
		f(t.Volume),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		f(t.RealizedPL),
		t.Reason,
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) Close() error {
	j.orders.Flush()
	if err := j.orders.Error(); err != nil {
		return err
	}
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}

	if err := j.of.Close(); err != nil {
		return err
	}
	return j.tf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
