package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending        BookingStatus = "PENDING"
	BookingPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingConfirmed      BookingStatus = "CONFIRMED"
)

// Booking is the durable record of a seat hold that has progressed into
// checkout. A cancelled or expired booking has no row at all.
type Booking struct {
	ID                uuid.UUID
	AccountID         int64
	ShowTimeID        int64
	VoucherID         *int64
	PaymentIntentID   *string
	Status            BookingStatus
	TotalBookingPrice int64
	ExpiresAt         time.Time
	DateTimeBooking   time.Time
	CheckedIn         bool
}

type BookSeat struct {
	BookingID      uuid.UUID
	SeatID         int64
	Occupied       bool
	TotalSeatPrice int64
	SpecialDateID  *int64
	DayTypeID      *int64
}

type BookRefreshment struct {
	BookingID     uuid.UUID
	RefreshmentID int64
	Quantity      int
	TotalPrice    int64
}

type BookingDetail struct {
	Booking      Booking
	Seats        []BookSeat
	Refreshments []BookRefreshment
}

// Voucher discounts are either percent-of-gross capped at MaxDiscountValue
// or a flat DiscountValue. All amounts are in the smallest currency unit.
type Voucher struct {
	ID               int64
	Code             string
	Number           int
	DiscountPercent  *int64
	MaxDiscountValue *int64
	DiscountValue    *int64
	MinOrderValue    *int64
	StartDate        *time.Time
	EndDate          *time.Time
}

type ShowTime struct {
	ID        int64
	MovieID   int64
	RoomID    int64
	StartTime time.Time
	EndTime   time.Time
}

type TypeSeat struct {
	ID    int64
	Name  string
	Price int64
}

type Seat struct {
	ID       int64
	RoomID   int64
	Name     string
	TypeSeat TypeSeat
}

type Refreshment struct {
	ID      int64
	Name    string
	Price   int64
	Offered bool
}

// SpecialDate is an exact-date surcharge override. It takes priority over
// the recurring DayType rule for the same day.
type SpecialDate struct {
	ID              int64
	Date            time.Time
	AdditionalPrice int64
}

// DayType is a recurring weekly surcharge rule keyed by day of week.
type DayType struct {
	ID              int64
	Weekday         time.Weekday
	AdditionalPrice int64
}

// Surcharge is the resolved per-seat price addition for a showtime,
// together with the rule it came from.
type Surcharge struct {
	Amount        int64
	SpecialDateID *int64
	DayTypeID     *int64
}
