package payment

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrPaymentAlreadyOpen = errors.New("payment already started for booking")
	ErrNotAwaitingPayment = errors.New("booking is not awaiting payment")
)
