package engine

import (
	"errors"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/risk"
)

// ErrStartupFailed is returned by Start when the venue handshake does not
// succeed within the configured attempts. It is the only fatal error.
var ErrStartupFailed = errors.New("startup handshake failed")

var errNotStarted = errors.New("engine not started")

// Kind classifies a failed cycle.
type Kind int

const (
	KindDataUnavailable Kind = iota + 1
	KindInvalidRiskPlan
	KindOrderRejected
	KindAdapterFault
)

func (k Kind) String() string {
	switch k {
	case KindDataUnavailable:
		return "data_unavailable"
	case KindInvalidRiskPlan:
		return "invalid_risk_plan"
	case KindOrderRejected:
		return "order_rejected"
	case KindAdapterFault:
		return "adapter_fault"
	}
	return "unknown"
}

// Classify maps err onto a Kind. Errors carrying none of the known
// sentinels are treated as adapter faults.
func Classify(err error) Kind {
	var ce *CycleError
	switch {
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, broker.ErrAdapterFault):
		return KindAdapterFault
	case errors.Is(err, broker.ErrDataUnavailable):
		return KindDataUnavailable
	case errors.Is(err, risk.ErrInvalidRiskPlan):
		return KindInvalidRiskPlan
	case errors.Is(err, broker.ErrOrderRejected):
		return KindOrderRejected
	}
	return KindAdapterFault
}

// CycleError is returned by RunCycle. Every kind is recoverable: the driver
// logs it and runs the next cycle after the usual sleep.
type CycleError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CycleError) Error() string {
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func (e *CycleError) Retriable() bool {
	return !errors.Is(e.Err, errNotStarted)
}

func cycleError(op string, err error) *CycleError {
	return &CycleError{Kind: Classify(err), Op: op, Err: err}
}

// dataError classifies a failed market data read. Anything the adapter did
// not tag as a fault counts as missing data.
func dataError(op string, err error) *CycleError {
	k := KindDataUnavailable
	if errors.Is(err, broker.ErrAdapterFault) {
		k = KindAdapterFault
	}
	return &CycleError{Kind: k, Op: op, Err: err}
}
