package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinego/internal/domain"
)

// CatalogRepo reads the showtime/seat/refreshment/surcharge catalog owned
// by the surrounding application. All methods are read-only.
type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *CatalogRepo) ShowTime(ctx context.Context, id int64) (*domain.ShowTime, error) {
	const op = "postgres.CatalogRepo.ShowTime"

	db := r.handle()

	var st domain.ShowTime
	err := db.QueryRow(ctx,
		`SELECT id, movie_id, room_id, start_time, end_time
       	 FROM show_times WHERE id = $1`,
		id,
	).Scan(&st.ID, &st.MovieID, &st.RoomID, &st.StartTime, &st.EndTime)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &st, nil
}

// SeatsWithType loads the requested seats joined with their seat type.
// Seats whose type relation is missing are not returned; the caller is
// responsible for comparing the result count against the request.
func (r *CatalogRepo) SeatsWithType(ctx context.Context, ids []int64) ([]domain.Seat, error) {
	const op = "postgres.CatalogRepo.SeatsWithType"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT s.id, s.room_id, s.name, t.id, t.name, t.price
       	 FROM seats s
       	 JOIN type_seats t ON t.id = s.type_seat_id
      	 WHERE s.id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(
			&s.ID, &s.RoomID, &s.Name,
			&s.TypeSeat.ID, &s.TypeSeat.Name, &s.TypeSeat.Price,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

// RefreshmentsByIDs returns the currently offered refreshments among ids,
// keyed by id. Withdrawn entries are omitted.
func (r *CatalogRepo) RefreshmentsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Refreshment, error) {
	const op = "postgres.CatalogRepo.RefreshmentsByIDs"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, name, price, offered
       	 FROM refreshments
      	 WHERE id = ANY($1) AND offered`,
		ids,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := make(map[int64]domain.Refreshment, len(ids))
	for rows.Next() {
		var rf domain.Refreshment
		if err := rows.Scan(&rf.ID, &rf.Name, &rf.Price, &rf.Offered); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out[rf.ID] = rf
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// SpecialDateOn returns the exact-date surcharge override for the calendar
// day of t, or nil when none is configured.
func (r *CatalogRepo) SpecialDateOn(ctx context.Context, t time.Time) (*domain.SpecialDate, error) {
	const op = "postgres.CatalogRepo.SpecialDateOn"

	db := r.handle()

	var sd domain.SpecialDate
	err := db.QueryRow(ctx,
		`SELECT id, date, additional_price
       	 FROM special_dates WHERE date = $1::date`,
		t,
	).Scan(&sd.ID, &sd.Date, &sd.AdditionalPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBErr(op, err)
	}

	return &sd, nil
}

// DayTypeOn returns the recurring weekly surcharge rule for the given day
// of week, or nil when none is configured.
func (r *CatalogRepo) DayTypeOn(ctx context.Context, wd time.Weekday) (*domain.DayType, error) {
	const op = "postgres.CatalogRepo.DayTypeOn"

	db := r.handle()

	var dt domain.DayType
	var weekday int
	err := db.QueryRow(ctx,
		`SELECT id, weekday, additional_price
       	 FROM day_types WHERE weekday = $1`,
		int(wd),
	).Scan(&dt.ID, &weekday, &dt.AdditionalPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBErr(op, err)
	}

	dt.Weekday = time.Weekday(weekday)

	return &dt, nil
}
