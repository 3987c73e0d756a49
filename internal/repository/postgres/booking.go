package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a booking together with its seat and refreshment rows.
// It is meant to run inside the coordinator's transaction via With.
func (r *BookingRepo) Create(
	ctx context.Context,
	b *domain.Booking,
	seats []domain.BookSeat,
	refreshments []domain.BookRefreshment,
) error {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO bookings(id, account_id, show_time_id, voucher_id, payment_intent_id,
                              status, total_booking_price, expires_at, date_time_booking, checked_in)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.AccountID, b.ShowTimeID, b.VoucherID, b.PaymentIntentID,
		b.Status, b.TotalBookingPrice, b.ExpiresAt, b.DateTimeBooking, b.CheckedIn,
	); err != nil {
		return wrapDBErr(op, err)
	}

	batch := &pgx.Batch{}
	for _, s := range seats {
		batch.Queue(
			`INSERT INTO book_seats(booking_id, seat_id, occupied, total_seat_price, special_date_id, day_type_id)
         	 VALUES ($1, $2, $3, $4, $5, $6)`,
			b.ID, s.SeatID, s.Occupied, s.TotalSeatPrice, s.SpecialDateID, s.DayTypeID,
		)
	}
	for _, rf := range refreshments {
		batch.Queue(
			`INSERT INTO book_refreshments(booking_id, refreshment_id, quantity, total_price)
         	 VALUES ($1, $2, $3, $4)`,
			b.ID, rf.RefreshmentID, rf.Quantity, rf.TotalPrice,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// LiveSeatConflicts returns the subset of seatIDs that already belong to a
// booking for this showtime. Runs inside the hold transaction as a
// defense-in-depth re-check behind the distributed seat lock.
func (r *BookingRepo) LiveSeatConflicts(
	ctx context.Context,
	showTimeID int64,
	seatIDs []int64,
) ([]int64, error) {
	const op = "postgres.BookingRepo.LiveSeatConflicts"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT bs.seat_id
       	 FROM book_seats bs
       	 JOIN bookings b ON b.id = bs.booking_id
      	 WHERE b.show_time_id = $1 AND bs.seat_id = ANY($2)`,
		showTimeID, seatIDs,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var conflicts []int64
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			return nil, wrapDBErr(op, err)
		}
		conflicts = append(conflicts, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return conflicts, nil
}

func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	db := r.handle()

	b, err := scanBooking(db.QueryRow(ctx, selectBooking+` WHERE id = $1`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

// GetDetail returns a booking with its seat and refreshment rows.
func (r *BookingRepo) GetDetail(ctx context.Context, id uuid.UUID) (*domain.BookingDetail, error) {
	const op = "postgres.BookingRepo.GetDetail"

	db := r.handle()

	b, err := scanBooking(db.QueryRow(ctx, selectBooking+` WHERE id = $1`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	detail := &domain.BookingDetail{Booking: *b}

	rows, err := db.Query(ctx,
		`SELECT booking_id, seat_id, occupied, total_seat_price, special_date_id, day_type_id
       	 FROM book_seats WHERE booking_id = $1`,
		id,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	for rows.Next() {
		var s domain.BookSeat
		if err := rows.Scan(&s.BookingID, &s.SeatID, &s.Occupied, &s.TotalSeatPrice, &s.SpecialDateID, &s.DayTypeID); err != nil {
			rows.Close()
			return nil, wrapDBErr(op, err)
		}
		detail.Seats = append(detail.Seats, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	rows, err = db.Query(ctx,
		`SELECT booking_id, refreshment_id, quantity, total_price
       	 FROM book_refreshments WHERE booking_id = $1`,
		id,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var rf domain.BookRefreshment
		if err := rows.Scan(&rf.BookingID, &rf.RefreshmentID, &rf.Quantity, &rf.TotalPrice); err != nil {
			return nil, wrapDBErr(op, err)
		}
		detail.Refreshments = append(detail.Refreshments, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return detail, nil
}

// BeginPayment records the gateway intent on a PENDING booking and moves it
// to PENDING_PAYMENT. The row is locked to serialize concurrent attempts.
//
// Returns:
//   - error: repository.ErrNotFound if the booking does not exist.
//   - error: repository.ErrConflict if the booking is not PENDING.
func (r *BookingRepo) BeginPayment(ctx context.Context, id uuid.UUID, intentID string) error {
	const op = "postgres.BookingRepo.BeginPayment"

	if r.db != nil {
		return wrapDBErr(op, r.beginPaymentCore(ctx, r.db, id, intentID))
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return wrapDBErr(op, err)
	}

	defer tx.Rollback(ctx)

	if err := r.beginPaymentCore(ctx, tx, id, intentID); err != nil {
		return wrapDBErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s:commit:%w", op, err)
	}

	return nil
}

// ConfirmPaid moves a PENDING_PAYMENT booking to CONFIRMED and flips every
// seat row to occupied. A missing or already-resolved booking is reported
// as confirmed=false with no error so webhook retries stay idempotent.
func (r *BookingRepo) ConfirmPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "postgres.BookingRepo.ConfirmPaid"

	if r.db != nil {
		ok, err := r.confirmPaidCore(ctx, r.db, id)
		return ok, wrapDBErr(op, err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	defer tx.Rollback(ctx)

	ok, err := r.confirmPaidCore(ctx, tx, id)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%s:commit:%w", op, err)
	}

	return ok, nil
}

// Delete removes the booking row; seat and refreshment rows go with it via
// cascade. Reports whether a row was actually deleted.
func (r *BookingRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "postgres.BookingRepo.Delete"

	db := r.handle()

	ct, err := db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return ct.RowsAffected() > 0, nil
}

// ExpireUnpaid discards a booking that is still PENDING_PAYMENT: restores
// the voucher stock when one was consumed and deletes the row. A booking
// that is missing or no longer PENDING_PAYMENT is left untouched and
// reported as expired=false. Returns the stored payment intent id so the
// caller can cancel it at the gateway.
func (r *BookingRepo) ExpireUnpaid(ctx context.Context, id uuid.UUID) (string, bool, error) {
	const op = "postgres.BookingRepo.ExpireUnpaid"

	if r.db != nil {
		intentID, ok, err := r.expireUnpaidCore(ctx, r.db, id)
		return intentID, ok, wrapDBErr(op, err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return "", false, wrapDBErr(op, err)
	}

	defer tx.Rollback(ctx)

	intentID, ok, err := r.expireUnpaidCore(ctx, tx, id)
	if err != nil {
		return "", false, wrapDBErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("%s:commit:%w", op, err)
	}

	return intentID, ok, nil
}

const selectBooking = `SELECT id, account_id, show_time_id, voucher_id, payment_intent_id,
                              status, total_booking_price, expires_at, date_time_booking, checked_in
                         FROM bookings`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.AccountID, &b.ShowTimeID, &b.VoucherID, &b.PaymentIntentID,
		&b.Status, &b.TotalBookingPrice, &b.ExpiresAt, &b.DateTimeBooking, &b.CheckedIn,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) beginPaymentCore(ctx context.Context, db DB, id uuid.UUID, intentID string) error {
	var status domain.BookingStatus

	err := db.QueryRow(ctx,
		`SELECT status FROM bookings WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status)
	if err != nil {
		return err
	}

	if status != domain.BookingPending {
		return repository.ErrConflict
	}

	_, err = db.Exec(ctx,
		`UPDATE bookings SET payment_intent_id = $2, status = $3 WHERE id = $1`,
		id, intentID, domain.BookingPendingPayment,
	)

	return err
}

func (r *BookingRepo) confirmPaidCore(ctx context.Context, db DB, id uuid.UUID) (bool, error) {
	var status domain.BookingStatus

	err := db.QueryRow(ctx,
		`SELECT status FROM bookings WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if status != domain.BookingPendingPayment {
		return false, nil
	}

	if _, err := db.Exec(ctx,
		`UPDATE bookings SET status = $2 WHERE id = $1`,
		id, domain.BookingConfirmed,
	); err != nil {
		return false, err
	}

	if _, err := db.Exec(ctx,
		`UPDATE book_seats SET occupied = TRUE WHERE booking_id = $1`,
		id,
	); err != nil {
		return false, err
	}

	return true, nil
}

func (r *BookingRepo) expireUnpaidCore(ctx context.Context, db DB, id uuid.UUID) (string, bool, error) {
	var status domain.BookingStatus
	var voucherID *int64
	var intentID *string

	err := db.QueryRow(ctx,
		`SELECT status, voucher_id, payment_intent_id FROM bookings WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status, &voucherID, &intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	if status != domain.BookingPendingPayment {
		return "", false, nil
	}

	if voucherID != nil {
		if err := (&VoucherRepo{}).With(db).IncrementStock(ctx, *voucherID); err != nil {
			return "", false, err
		}
	}

	if _, err := db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id); err != nil {
		return "", false, err
	}

	if intentID == nil {
		return "", true, nil
	}

	return *intentID, true, nil
}
