package ingest

import (
	"errors"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/store"
)

// Ingest errors. Each is local to one message: the message is dropped and
// ingestion continues.
var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownMeter = errors.New("unknown meter")
	ErrDuplicate    = store.ErrDuplicate
	ErrExpired      = store.ErrExpired
)

// Outcome labels used for logs and metrics
const (
	OutcomeAccepted     = "accepted"
	OutcomeMalformed    = "malformed"
	OutcomeUnknownMeter = "unknown_meter"
	OutcomeDuplicate    = "duplicate"
	OutcomeExpired      = "expired"
	OutcomeFailed       = "failed"
)

// outcome maps an Ingest error to its label
func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrMalformed):
		return OutcomeMalformed
	case errors.Is(err, ErrUnknownMeter):
		return OutcomeUnknownMeter
	case errors.Is(err, ErrDuplicate):
		return OutcomeDuplicate
	case errors.Is(err, ErrExpired):
		return OutcomeExpired
	default:
		return OutcomeFailed
	}
}
