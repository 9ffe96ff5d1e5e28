package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered: an order was attempted before venue name and address exist.
	ErrNotRegistered = errors.New("venue registration is not complete")
	// ErrVenueNotFound: the venue id has no directory entry.
	ErrVenueNotFound = errors.New("venue not found")
	// ErrPastCutoff: same-day delivery requested at or after the daily cutoff.
	ErrPastCutoff = errors.New("same-day cutoff has passed")
	// ErrPastDate: explicit delivery date is earlier than today.
	ErrPastDate = errors.New("delivery date is in the past")
	// ErrStaleIndex: the order index no longer points at the order the user saw.
	ErrStaleIndex = errors.New("order index is stale")
	// ErrStoreUnavailable: the tabular store failed (transport, auth, quota).
	ErrStoreUnavailable = errors.New("order store unavailable")
)

// StoreError wraps a failed table call. errors.Is(err, ErrStoreUnavailable) holds for it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
