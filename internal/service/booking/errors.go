package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNoSeatsSelected = errors.New("no seats selected")
	ErrBookingNotFound = errors.New("booking not found")
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrShowTimeMissing means an upstream-validated showtime id resolved to
	// nothing inside the hold. That is catalog corruption, not client error.
	ErrShowTimeMissing = errors.New("showtime missing")
)

// SeatUnavailableError names the seat that lost the lock race.
type SeatUnavailableError struct {
	SeatID int64
}

func (e SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat already held: %d", e.SeatID)
}

// SeatsNotFoundError lists requested seat ids with no catalog row or a
// broken seat-type relation. Surfaced as a server fault.
type SeatsNotFoundError struct {
	SeatIDs []int64
}

func (e SeatsNotFoundError) Error() string {
	return fmt.Sprintf("seats not found: %v", e.SeatIDs)
}

// SeatsAlreadyBookedError lists seats that already belong to a live booking
// for the showtime, caught by the in-transaction re-check.
type SeatsAlreadyBookedError struct {
	SeatIDs []int64
}

func (e SeatsAlreadyBookedError) Error() string {
	return fmt.Sprintf("seats already booked: %v", e.SeatIDs)
}
