package httpgin

import (
	"time"

	"github.com/kirinyoku/cinego/internal/domain"
)

type RefreshmentInput struct {
	RefreshmentID int64 `json:"refreshment_id" binding:"required"`
	Quantity      int   `json:"quantity" binding:"required,gt=0"`
}

type HoldBookingRequest struct {
	AccountID    int64              `json:"account_id" binding:"required"`
	ShowTimeID   int64              `json:"show_time_id" binding:"required"`
	SeatIDs      []int64            `json:"seat_ids" binding:"required,min=1,dive,required"`
	VoucherCode  string             `json:"voucher_code"`
	Refreshments []RefreshmentInput `json:"refreshments" binding:"dive"`
}

type HoldBookingResponse struct {
	BookingID  string `json:"booking_id"`
	TotalPrice int64  `json:"total_price"`
	ExpiresAt  string `json:"expires_at"`
}

type BookingSeatResponse struct {
	SeatID         int64 `json:"seat_id"`
	Occupied       bool  `json:"occupied"`
	TotalSeatPrice int64 `json:"total_seat_price"`
}

type BookingRefreshmentResponse struct {
	RefreshmentID int64 `json:"refreshment_id"`
	Quantity      int   `json:"quantity"`
	TotalPrice    int64 `json:"total_price"`
}

type BookingDetailResponse struct {
	BookingID    string                       `json:"booking_id"`
	AccountID    int64                        `json:"account_id"`
	ShowTimeID   int64                        `json:"show_time_id"`
	VoucherID    *int64                       `json:"voucher_id,omitempty"`
	Status       string                       `json:"status"`
	TotalPrice   int64                        `json:"total_price"`
	ExpiresAt    string                       `json:"expires_at"`
	BookedAt     string                       `json:"booked_at"`
	CheckedIn    bool                         `json:"checked_in"`
	Seats        []BookingSeatResponse        `json:"seats"`
	Refreshments []BookingRefreshmentResponse `json:"refreshments"`
}

func newBookingDetailResponse(d *domain.BookingDetail) BookingDetailResponse {
	out := BookingDetailResponse{
		BookingID:    d.Booking.ID.String(),
		AccountID:    d.Booking.AccountID,
		ShowTimeID:   d.Booking.ShowTimeID,
		VoucherID:    d.Booking.VoucherID,
		Status:       string(d.Booking.Status),
		TotalPrice:   d.Booking.TotalBookingPrice,
		ExpiresAt:    d.Booking.ExpiresAt.Format(time.RFC3339),
		BookedAt:     d.Booking.DateTimeBooking.Format(time.RFC3339),
		CheckedIn:    d.Booking.CheckedIn,
		Seats:        make([]BookingSeatResponse, 0, len(d.Seats)),
		Refreshments: make([]BookingRefreshmentResponse, 0, len(d.Refreshments)),
	}

	for _, s := range d.Seats {
		out.Seats = append(out.Seats, BookingSeatResponse{
			SeatID:         s.SeatID,
			Occupied:       s.Occupied,
			TotalSeatPrice: s.TotalSeatPrice,
		})
	}
	for _, r := range d.Refreshments {
		out.Refreshments = append(out.Refreshments, BookingRefreshmentResponse{
			RefreshmentID: r.RefreshmentID,
			Quantity:      r.Quantity,
			TotalPrice:    r.TotalPrice,
		})
	}

	return out
}

type CreatePaymentIntentRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
}

type PaymentIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
}

type CancelPaymentRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
