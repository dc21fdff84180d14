package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	j, err := Open("none", "", "", "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, j)
	assert.NoError(t, j.RecordOrder(OrderRecord{}))
	assert.NoError(t, j.Close())

	dir := t.TempDir()
	j, err = Open("sqlite", filepath.Join(dir, "j.db"), "", "")
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, j)
	assert.NoError(t, j.Close())

	_, err = Open("parquet", "", "", "")
	assert.Error(t, err)
}

func TestCSVJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	tradesPath := filepath.Join(dir, "trades.csv")

	j, err := NewCSV(ordersPath, tradesPath)
	require.NoError(t, err)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordOrder(OrderRecord{
		Time: ts, Instrument: "XAUUSD", Kind: "reduce_volume", Reason: "partial_close",
		Ticket: "T1", Side: "sell", Volume: 0.05, Price: 2007, FillMode: "fok", Accepted: true,
	}))
	require.NoError(t, j.RecordTrade(TradeRecord{
		Ticket: "T1", Instrument: "XAUUSD", Side: "buy", Volume: 0.05,
		EntryPrice: 2000, ExitPrice: 2007, OpenTime: ts, CloseTime: ts.Add(time.Minute),
		RealizedPL: 35, Reason: "PartialClose",
	}))
	require.NoError(t, j.Close())

	rows := readCSV(t, ordersPath)
	require.Len(t, rows, 2)
	assert.Equal(t, "time", rows[0][0])
	assert.Equal(t, "2024-01-02T03:04:05Z", rows[1][0])
	assert.Equal(t, "partial_close", rows[1][3])
	assert.Equal(t, "0.050000", rows[1][6])
	assert.Equal(t, "true", rows[1][11])

	rows = readCSV(t, tradesPath)
	require.Len(t, rows, 2)
	assert.Equal(t, "PartialClose", rows[1][9])
	assert.Equal(t, "35.000000", rows[1][8])
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}
