package repository

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrVoucherExhausted = errors.New("voucher out of stock")
)
