package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

type VoucherRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *VoucherRepo) With(db DB) *VoucherRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *VoucherRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *VoucherRepo) GetByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	const op = "postgres.VoucherRepo.GetByCode"

	db := r.handle()

	var v domain.Voucher
	err := db.QueryRow(ctx,
		`SELECT id, code, number, discount_percent, max_discount_value,
                discount_value, min_order_value, start_date, end_date
       	 FROM vouchers WHERE code = $1`,
		code,
	).Scan(
		&v.ID, &v.Code, &v.Number, &v.DiscountPercent, &v.MaxDiscountValue,
		&v.DiscountValue, &v.MinOrderValue, &v.StartDate, &v.EndDate,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &v, nil
}

// DecrementStock consumes one unit of voucher stock. The guarded update is
// what makes redemption race-safe across concurrent bookings.
//
// Returns:
//   - error: repository.ErrVoucherExhausted when no stock remains.
func (r *VoucherRepo) DecrementStock(ctx context.Context, id int64) error {
	const op = "postgres.VoucherRepo.DecrementStock"

	db := r.handle()

	ct, err := db.Exec(ctx,
		`UPDATE vouchers SET number = number - 1 WHERE id = $1 AND number > 0`,
		id,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrVoucherExhausted)
	}

	return nil
}

// IncrementStock puts one unit back, used when a booking that consumed the
// voucher is discarded.
func (r *VoucherRepo) IncrementStock(ctx context.Context, id int64) error {
	const op = "postgres.VoucherRepo.IncrementStock"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE vouchers SET number = number + 1 WHERE id = $1`,
		id,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
