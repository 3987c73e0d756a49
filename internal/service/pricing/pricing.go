// Package pricing computes the money side of a booking: the per-seat
// surcharge for a showtime, refreshment totals and voucher discounts.
// Everything here is pure computation over rows the coordinator loads
// inside its transaction.
package pricing

import (
	"fmt"
	"time"

	"github.com/kirinyoku/cinego/internal/domain"
)

// Surcharge resolves the price addition for a showtime from the two rule
// kinds. An exact-date override strictly takes priority over the recurring
// day-type rule; with neither configured the surcharge is zero.
func Surcharge(special *domain.SpecialDate, dayType *domain.DayType) domain.Surcharge {
	if special != nil {
		id := special.ID
		return domain.Surcharge{Amount: special.AdditionalPrice, SpecialDateID: &id}
	}

	if dayType != nil {
		id := dayType.ID
		return domain.Surcharge{Amount: dayType.AdditionalPrice, DayTypeID: &id}
	}

	return domain.Surcharge{}
}

// SeatPrice is the seat's type base price plus the showtime surcharge.
func SeatPrice(seat domain.Seat, sur domain.Surcharge) int64 {
	return seat.TypeSeat.Price + sur.Amount
}

// RefreshmentItem is one requested line of the refreshment order.
type RefreshmentItem struct {
	RefreshmentID int64
	Quantity      int
}

// RefreshmentsTotal prices the requested items against the currently
// offered catalog entries.
//
// Returns:
//   - int64: the accumulated price of all lines.
//   - []domain.BookRefreshment: the line rows to persist (booking id unset).
//   - error: RefreshmentNotFoundError naming the first unknown or withdrawn id.
func RefreshmentsTotal(
	items []RefreshmentItem,
	catalog map[int64]domain.Refreshment,
) (int64, []domain.BookRefreshment, error) {
	var total int64
	lines := make([]domain.BookRefreshment, 0, len(items))

	for _, it := range items {
		rf, ok := catalog[it.RefreshmentID]
		if !ok {
			return 0, nil, RefreshmentNotFoundError{ID: it.RefreshmentID}
		}

		linePrice := rf.Price * int64(it.Quantity)
		total += linePrice

		lines = append(lines, domain.BookRefreshment{
			RefreshmentID: it.RefreshmentID,
			Quantity:      it.Quantity,
			TotalPrice:    linePrice,
		})
	}

	return total, lines, nil
}

// VoucherDiscount validates the voucher against the gross amount at the
// given instant and computes the discount. The caller owns the stock
// decrement; this function only checks that stock remains.
//
// Returns:
//   - int64: the discount, never negative and never above gross.
//   - error: ErrVoucherExhausted, ErrVoucherNotStarted, ErrVoucherExpired
//     or ErrBelowMinimumOrder when the voucher cannot be applied.
func VoucherDiscount(v domain.Voucher, gross int64, now time.Time) (int64, error) {
	if v.Number <= 0 {
		return 0, ErrVoucherExhausted
	}

	if v.StartDate != nil && now.Before(*v.StartDate) {
		return 0, ErrVoucherNotStarted
	}

	if v.EndDate != nil && now.After(*v.EndDate) {
		return 0, ErrVoucherExpired
	}

	if v.MinOrderValue != nil && gross < *v.MinOrderValue {
		return 0, ErrBelowMinimumOrder
	}

	var discount int64
	if v.DiscountPercent != nil {
		discount = gross * *v.DiscountPercent / 100
		if v.MaxDiscountValue != nil && discount > *v.MaxDiscountValue {
			discount = *v.MaxDiscountValue
		}
	} else if v.DiscountValue != nil {
		discount = *v.DiscountValue
	}

	if discount < 0 {
		discount = 0
	}
	if discount > gross {
		discount = gross
	}

	return discount, nil
}

// FinalPrice floors the discounted total at zero.
func FinalPrice(gross, discount int64) int64 {
	if discount >= gross {
		return 0
	}
	return gross - discount
}

type RefreshmentNotFoundError struct {
	ID int64
}

func (e RefreshmentNotFoundError) Error() string {
	return fmt.Sprintf("refreshment not offered: %d", e.ID)
}
