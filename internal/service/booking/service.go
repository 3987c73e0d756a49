package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
	postgresrepo "github.com/kirinyoku/cinego/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/saga"
	"github.com/kirinyoku/cinego/internal/service/pricing"
	"github.com/kirinyoku/cinego/internal/uow"
)

// SeatLocker is the distributed exclusive hold on (showtime, seat) keys.
type SeatLocker interface {
	Acquire(ctx context.Context, showTimeID, seatID int64, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, keys ...string) error
}

// TxRunner runs a function inside one persistence transaction.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error) error
}

// Catalog is the slice of the read-only catalog the coordinator needs.
type Catalog interface {
	ShowTime(ctx context.Context, id int64) (*domain.ShowTime, error)
	SeatsWithType(ctx context.Context, ids []int64) ([]domain.Seat, error)
	RefreshmentsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Refreshment, error)
	SpecialDateOn(ctx context.Context, t time.Time) (*domain.SpecialDate, error)
	DayTypeOn(ctx context.Context, wd time.Weekday) (*domain.DayType, error)
}

// Bookings is the slice of the booking store the coordinator needs.
type Bookings interface {
	Create(ctx context.Context, b *domain.Booking, seats []domain.BookSeat, refreshments []domain.BookRefreshment) error
	LiveSeatConflicts(ctx context.Context, showTimeID int64, seatIDs []int64) ([]int64, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*domain.BookingDetail, error)
}

// Vouchers is the slice of the voucher store the coordinator needs.
type Vouchers interface {
	GetByCode(ctx context.Context, code string) (*domain.Voucher, error)
	DecrementStock(ctx context.Context, id int64) error
}

// Repos hands out the per-concern repositories bound to one transaction
// handle. A nil handle binds to the pool.
type Repos interface {
	Catalog(tx postgresrepo.DB) Catalog
	Bookings(tx postgresrepo.DB) Bookings
	Vouchers(tx postgresrepo.DB) Vouchers
}

type storeRepos struct {
	store *postgresrepo.Store
}

func (s storeRepos) Catalog(tx postgresrepo.DB) Catalog   { return s.store.Catalog().With(tx) }
func (s storeRepos) Bookings(tx postgresrepo.DB) Bookings { return s.store.Bookings().With(tx) }
func (s storeRepos) Vouchers(tx postgresrepo.DB) Vouchers { return s.store.Vouchers().With(tx) }

type Config struct {
	HoldDuration time.Duration
}

// Service coordinates the hold: lock acquisition, in-transaction validation,
// pricing and the atomic persistence of a booking with its line items.
type Service struct {
	repos  Repos
	locker SeatLocker
	tx     TxRunner
	logger *slog.Logger
	cfg    Config
}

func New(store *postgresrepo.Store, locker SeatLocker, logger *slog.Logger, cfg Config) *Service {
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = 5 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repos:  storeRepos{store: store},
		locker: locker,
		tx:     uow.NewUoW(store),
		logger: logger,
		cfg:    cfg,
	}
}

type HoldBookingInput struct {
	AccountID    int64
	ShowTimeID   int64
	SeatIDs      []int64
	VoucherCode  string
	Refreshments []pricing.RefreshmentItem
}

type HoldBookingResult struct {
	BookingID  uuid.UUID
	TotalPrice int64
	ExpiresAt  time.Time
}

// HoldBooking secures every requested seat, validates and prices the order
// inside one transaction and persists a PENDING booking whose expiry is
// derived from the same hold duration as the seat lock TTL.
//
// The seat locks and the relational rows are not jointly transactional:
// each acquired lock registers an undo, and any failure before commit runs
// the undo list before the error propagates.
//
// Returns:
//   - error: SeatUnavailableError naming the first contested seat.
//   - error: SeatsNotFoundError / ErrShowTimeMissing on catalog inconsistency.
//   - error: SeatsAlreadyBookedError when the in-transaction re-check finds
//     the seats already attached to a live booking.
//   - error: ErrVoucherNotFound or a pricing voucher error when a code was
//     supplied and cannot be applied.
func (s *Service) HoldBooking(ctx context.Context, in HoldBookingInput) (*HoldBookingResult, error) {
	const op = "service.booking.HoldBooking"

	if len(in.SeatIDs) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrNoSeatsSelected)
	}

	// Seats are locked in caller order on purpose: overlapping requests are
	// resolved by the first-failure-releases-all rule, not by a global seat
	// ordering.
	sg := saga.New()
	holder := strconv.FormatInt(in.AccountID, 10)

	for _, seatID := range in.SeatIDs {
		ok, err := s.locker.Acquire(ctx, in.ShowTimeID, seatID, holder, s.cfg.HoldDuration)
		if err != nil {
			sg.Compensate(ctx)
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			sg.Compensate(ctx)
			return nil, fmt.Errorf("%s:%w", op, SeatUnavailableError{SeatID: seatID})
		}

		key := redisrepo.KeySeatLock(in.ShowTimeID, seatID)
		sg.Add(func(ctx context.Context) {
			_ = s.locker.Release(ctx, key)
		})
	}

	now := time.Now()
	var result HoldBookingResult

	// Concurrent holds touching the same voucher row can deadlock; those
	// aborts are safe to retry because everything rolls back together.
	var err error
	for attempt := 0; attempt < holdTxAttempts; attempt++ {
		err = s.holdTx(ctx, in, now, &result)
		if err == nil || !postgresrepo.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		sg.Compensate(ctx)
		return nil, err
	}

	return &result, nil
}

const holdTxAttempts = 3

func (s *Service) holdTx(ctx context.Context, in HoldBookingInput, now time.Time, result *HoldBookingResult) error {
	const op = "service.booking.HoldBooking"

	return s.tx.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		st, err := s.repos.Catalog(tx).ShowTime(ctx, in.ShowTimeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrShowTimeMissing)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		seats, err := s.repos.Catalog(tx).SeatsWithType(ctx, in.SeatIDs)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if len(seats) != len(in.SeatIDs) {
			return fmt.Errorf("%s:%w", op, SeatsNotFoundError{SeatIDs: missingSeatIDs(in.SeatIDs, seats)})
		}

		// Re-check inside the transaction that no live booking already owns
		// any of these seats. The distributed lock alone cannot rule out a
		// holder whose TTL lapsed mid-flight.
		conflicts, err := s.repos.Bookings(tx).LiveSeatConflicts(ctx, in.ShowTimeID, in.SeatIDs)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if len(conflicts) > 0 {
			return fmt.Errorf("%s:%w", op, SeatsAlreadyBookedError{SeatIDs: conflicts})
		}

		special, err := s.repos.Catalog(tx).SpecialDateOn(ctx, st.StartTime)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		dayType, err := s.repos.Catalog(tx).DayTypeOn(ctx, st.StartTime.Weekday())
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		sur := pricing.Surcharge(special, dayType)

		bookingID := uuid.New()

		var gross int64
		seatRows := make([]domain.BookSeat, 0, len(seats))
		for _, seat := range seats {
			price := pricing.SeatPrice(seat, sur)
			gross += price
			seatRows = append(seatRows, domain.BookSeat{
				BookingID:      bookingID,
				SeatID:         seat.ID,
				TotalSeatPrice: price,
				SpecialDateID:  sur.SpecialDateID,
				DayTypeID:      sur.DayTypeID,
			})
		}

		var refreshmentRows []domain.BookRefreshment
		if len(in.Refreshments) > 0 {
			ids := make([]int64, 0, len(in.Refreshments))
			for _, it := range in.Refreshments {
				ids = append(ids, it.RefreshmentID)
			}

			catalog, err := s.repos.Catalog(tx).RefreshmentsByIDs(ctx, ids)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}

			total, lines, err := pricing.RefreshmentsTotal(in.Refreshments, catalog)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}

			gross += total
			for i := range lines {
				lines[i].BookingID = bookingID
			}
			refreshmentRows = lines
		}

		var voucherID *int64
		var discount int64
		if in.VoucherCode != "" {
			v, err := s.repos.Vouchers(tx).GetByCode(ctx, in.VoucherCode)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%s:%w", op, ErrVoucherNotFound)
				}
				return fmt.Errorf("%s:%w", op, err)
			}

			discount, err = pricing.VoucherDiscount(*v, gross, now)
			if err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}

			if err := s.repos.Vouchers(tx).DecrementStock(ctx, v.ID); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}

			voucherID = &v.ID
		}

		b := domain.Booking{
			ID:                bookingID,
			AccountID:         in.AccountID,
			ShowTimeID:        in.ShowTimeID,
			VoucherID:         voucherID,
			Status:            domain.BookingPending,
			TotalBookingPrice: pricing.FinalPrice(gross, discount),
			ExpiresAt:         now.Add(s.cfg.HoldDuration),
			DateTimeBooking:   now,
		}

		if err := s.repos.Bookings(tx).Create(ctx, &b, seatRows, refreshmentRows); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		// Log only holds that actually committed; a rolled-back attempt
		// would otherwise leave a misleading trail.
		after(func(ctx context.Context) {
			s.logger.Info("booking held",
				"booking_id", b.ID,
				"show_time_id", b.ShowTimeID,
				"seats", len(seatRows),
				"total_price", b.TotalBookingPrice,
			)
		})

		*result = HoldBookingResult{
			BookingID:  b.ID,
			TotalPrice: b.TotalBookingPrice,
			ExpiresAt:  b.ExpiresAt,
		}

		return nil
	})
}

// GetBooking returns a booking with its seat and refreshment rows.
//
// Returns:
//   - error: ErrBookingNotFound if no such booking exists.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.BookingDetail, error) {
	const op = "service.booking.GetBooking"

	detail, err := s.repos.Bookings(nil).GetDetail(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return detail, nil
}

func missingSeatIDs(requested []int64, found []domain.Seat) []int64 {
	seen := make(map[int64]bool, len(found))
	for _, s := range found {
		seen[s.ID] = true
	}

	var missing []int64
	for _, id := range requested {
		if !seen[id] {
			missing = append(missing, id)
		}
	}

	return missing
}
