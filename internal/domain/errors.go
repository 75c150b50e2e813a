package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	ErrSourceUnavailable    = errors.New("quote source unavailable")
	ErrNoLiveVenues         = errors.New("no live venues")
	ErrStaleData            = errors.New("stale quote data")
	ErrAdmissionRejected    = errors.New("admission rejected")
	ErrLegSubmissionFailed  = errors.New("leg submission failed")
	ErrConfirmationTimeout  = errors.New("confirmation timeout")
	ErrConcurrencyViolation = errors.New("concurrency invariant violated")
	ErrStatusConflict       = errors.New("status precondition failed")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// LegError describes a leg that failed after all submission attempts.
// It matches ErrLegSubmissionFailed and the underlying cause with errors.Is.
type LegError struct {
	Leg      int
	Venue    string
	Attempts int
	Err      error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("leg %d on %s failed after %d attempt(s): %v", e.Leg, e.Venue, e.Attempts, e.Err)
}

func (e *LegError) Unwrap() []error {
	return []error{ErrLegSubmissionFailed, e.Err}
}
