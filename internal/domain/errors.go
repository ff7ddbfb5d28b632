package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the trading core. Callers classify with errors.Is.
var (
	// ErrDataGap reports a missing candle between two consecutive updates.
	// Processing continues; affected indicators rebuild from fresh history.
	ErrDataGap = errors.New("data gap")

	// ErrOutOfOrder reports a duplicate or out-of-order candle. The candle is
	// rejected and never reprocessed.
	ErrOutOfOrder = errors.New("out-of-order candle")

	// ErrInsufficientHistory reports too few candles for a computation.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInvalidSignal reports an internally inconsistent signal.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrRiskRejection reports a signal that failed a risk limit.
	ErrRiskRejection = errors.New("risk rejection")

	// ErrExecutionFailure reports a venue rejection or submission timeout.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrReconciliationMismatch reports a fill that cannot be applied
	// consistently. Submission for the symbol pauses until resolved.
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")

	// ErrSymbolPaused reports a submission attempt on a paused symbol.
	ErrSymbolPaused = errors.New("symbol paused pending reconciliation")

	// ErrUnknownOrder reports a lookup of an order id the core never issued.
	ErrUnknownOrder = errors.New("unknown order")
)

// RejectionError carries the limit that rejected a signal.
type RejectionError struct {
	Limit  Limit
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("risk rejection (%s): %s", e.Limit, e.Reason)
}

// Unwrap makes errors.Is(err, ErrRiskRejection) hold.
func (e *RejectionError) Unwrap() error { return ErrRiskRejection }
