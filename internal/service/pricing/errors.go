package pricing

import "errors"

var (
	ErrVoucherExhausted  = errors.New("voucher out of stock")
	ErrVoucherNotStarted = errors.New("voucher not yet valid")
	ErrVoucherExpired    = errors.New("voucher expired")
	ErrBelowMinimumOrder = errors.New("order below voucher minimum")
)
