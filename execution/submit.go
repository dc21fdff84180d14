// Package execution builds venue requests and dispatches them, walking the
// configured fill modes until the venue accepts one.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/metrics"
)

// Submitter sends requests to a venue and journals every attempt.
type Submitter struct {
	venue   broker.Venue
	modes   []broker.FillMode
	journal journal.Journal
	log     *slog.Logger
	now     func() time.Time
}

func NewSubmitter(v broker.Venue, modes []broker.FillMode, j journal.Journal, log *slog.Logger) *Submitter {
	if len(modes) == 0 {
		modes = broker.DefaultFillModes()
	}
	if j == nil {
		j = journal.Nop{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Submitter{
		venue:   v,
		modes:   append([]broker.FillMode(nil), modes...),
		journal: j,
		log:     log,
		now:     time.Now,
	}
}

// Modes returns the fill modes in the order they are tried.
func (s *Submitter) Modes() []broker.FillMode {
	return append([]broker.FillMode(nil), s.modes...)
}

// Submit dispatches req. Deal requests are tried once per fill mode, in
// order, with every other field unchanged; the first acceptance wins. If the
// venue declines every mode the last answer is returned with an error
// wrapping broker.ErrOrderRejected. An adapter error stops the walk at once,
// since the venue may or may not have acted on the request.
func (s *Submitter) Submit(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	if !req.Kind.UsesFillMode() {
		res, err := s.send(ctx, req)
		if err != nil {
			return res, err
		}
		if !res.Accepted {
			return res, fmt.Errorf("%s: %w: code=%d %s", req.Kind, broker.ErrOrderRejected, res.Code, res.Message)
		}
		return res, nil
	}

	var last broker.Result
	for _, mode := range s.modes {
		res, err := s.send(ctx, req.WithFillMode(mode))
		if err != nil {
			return res, err
		}
		if res.Accepted {
			return res, nil
		}
		last = res
		metrics.FillModeRejections.WithLabelValues(string(mode)).Inc()
		s.log.Warn("fill mode rejected",
			"kind", req.Kind.String(),
			"reason", req.Reason,
			"mode", string(mode),
			"code", res.Code,
			"message", res.Message,
		)
	}
	return last, fmt.Errorf("%s: %w in all fill modes %v: code=%d %s",
		req.Kind, broker.ErrOrderRejected, s.modes, last.Code, last.Message)
}

func (s *Submitter) send(ctx context.Context, req broker.OrderRequest) (broker.Result, error) {
	res, err := s.venue.Submit(ctx, req)

	result := "rejected"
	switch {
	case err != nil:
		result = "error"
	case res.Accepted:
		result = "accepted"
	}
	metrics.Orders.WithLabelValues(req.Kind.String(), result).Inc()

	ticket := req.Ticket
	if ticket == "" {
		ticket = res.Ticket
	}
	rec := journal.OrderRecord{
		Time:       s.now(),
		Instrument: req.Instrument,
		Kind:       req.Kind.String(),
		Reason:     req.Reason,
		Ticket:     ticket,
		Volume:     req.Volume,
		Price:      req.Price,
		Stop:       req.Stop,
		Target:     req.Target,
		FillMode:   string(req.FillMode),
		Accepted:   err == nil && res.Accepted,
		Code:       res.Code,
		Message:    res.Message,
	}
	if req.Side != 0 {
		rec.Side = req.Side.String()
	}
	if err != nil {
		rec.Message = err.Error()
	}
	if jerr := s.journal.RecordOrder(rec); jerr != nil {
		s.log.Warn("journal order", "kind", rec.Kind, "ticket", rec.Ticket, "err", jerr)
	}

	if err != nil {
		return res, adapterFault(fmt.Sprintf("submit %s", req.Kind), err)
	}
	return res, nil
}

// adapterFault tags err as an adapter fault unless the adapter already
// classified it.
func adapterFault(op string, err error) error {
	if errors.Is(err, broker.ErrAdapterFault) || errors.Is(err, broker.ErrDataUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, broker.ErrAdapterFault, err)
}
