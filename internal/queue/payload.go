package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TradePayload is the payload of a trade job.
type TradePayload struct {
	StrategyID uint   `json:"strategy_id"`
	Qty        int    `json:"qty"`
	Side       string `json:"side"`
}

// RolloverPayload is the payload of a rollover job. InstrumentID snapshots
// the strategy's instrument at enqueue time; the handler aborts if the
// strategy has moved on since, so two queued rollovers can never both advance
// the same strategy.
type RolloverPayload struct {
	StrategyID   uint `json:"strategy_id"`
	InstrumentID uint `json:"instrument_id"`
}

// DecodeTradePayload parses a trade job payload.
func DecodeTradePayload(raw string) (*TradePayload, error) {
	var p TradePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("queue: malformed trade payload: %w", err)
	}
	return &p, nil
}

// DecodeRolloverPayload parses a rollover job payload.
func DecodeRolloverPayload(raw string) (*RolloverPayload, error) {
	var p RolloverPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("queue: malformed rollover payload: %w", err)
	}
	return &p, nil
}

// PermanentError marks a handler failure that retrying cannot fix: resolution
// failures and deterministic broker rejections. The pool fails the job
// immediately instead of re-enqueueing it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the non-retryable marker.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
