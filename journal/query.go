package journal

import "time"

// OrdersByTicket returns every request recorded against ticket, oldest first.
func (j *SQLite) OrdersByTicket(ticket string) ([]OrderRecord, error) {
	rows, err := j.db.Query(`
		SELECT time, instrument, kind, reason, ticket, side, volume, price, stop, target, fill_mode, accepted, code, message
		FROM orders
		WHERE ticket = ?
		ORDER BY id ASC`, ticket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		if err := rows.Scan(
			&rec.Time,
			&rec.Instrument,
			&rec.Kind,
			&rec.Reason,
			&rec.Ticket,
			&rec.Side,
			&rec.Volume,
			&rec.Price,
			&rec.Stop,
			&rec.Target,
			&rec.FillMode,
			&rec.Accepted,
			&rec.Code,
			&rec.Message,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) TradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT ticket, instrument, side, volume, entry_price, exit_price, open_time, close_time, realized_pl, reason
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC, id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		if err := rows.Scan(
			&rec.Ticket,
			&rec.Instrument,
			&rec.Side,
			&rec.Volume,
			&rec.EntryPrice,
			&rec.ExitPrice,
			&rec.OpenTime,
			&rec.CloseTime,
			&rec.RealizedPL,
			&rec.Reason,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
