package booking

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
	postgresrepo "github.com/kirinyoku/cinego/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/service/pricing"
	"github.com/kirinyoku/cinego/internal/uow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	held     map[string]string
	ttls     map[string]time.Duration
	released []string
	denied   map[int64]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{
		held:   make(map[string]string),
		ttls:   make(map[string]time.Duration),
		denied: make(map[int64]bool),
	}
}

func (l *fakeLocker) Acquire(_ context.Context, showTimeID, seatID int64, holder string, ttl time.Duration) (bool, error) {
	if l.denied[seatID] {
		return false, nil
	}

	key := redisrepo.KeySeatLock(showTimeID, seatID)
	if _, taken := l.held[key]; taken {
		return false, nil
	}

	l.held[key] = holder
	l.ttls[key] = ttl

	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(l.held, k)
		l.released = append(l.released, k)
	}
	return nil
}

// fakeTxRunner runs fn directly and fires registered after-commit hooks on
// success, mirroring the unit-of-work contract without a database.
type fakeTxRunner struct {
	err    error
	called bool
}

func (r *fakeTxRunner) Do(ctx context.Context, fn func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error) error {
	r.called = true
	if r.err != nil {
		return r.err
	}

	var hooks []uow.AfterCommit
	if err := fn(ctx, nil, func(h uow.AfterCommit) { hooks = append(hooks, h) }); err != nil {
		return err
	}
	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// fakeRepos is the in-memory store behind all three repo slices.
type fakeRepos struct {
	showTimes    map[int64]*domain.ShowTime
	seats        map[int64]domain.Seat
	refreshments map[int64]domain.Refreshment
	special      *domain.SpecialDate
	dayType      *domain.DayType
	vouchers     map[string]*domain.Voucher
	liveSeats    map[int64]bool

	created      *domain.Booking
	createdSeats []domain.BookSeat
	createdRefr  []domain.BookRefreshment
	decrements   map[int64]int
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{
		showTimes:    make(map[int64]*domain.ShowTime),
		seats:        make(map[int64]domain.Seat),
		refreshments: make(map[int64]domain.Refreshment),
		vouchers:     make(map[string]*domain.Voucher),
		liveSeats:    make(map[int64]bool),
		decrements:   make(map[int64]int),
	}
}

func (f *fakeRepos) Catalog(_ postgresrepo.DB) Catalog   { return f }
func (f *fakeRepos) Bookings(_ postgresrepo.DB) Bookings { return f }
func (f *fakeRepos) Vouchers(_ postgresrepo.DB) Vouchers { return f }

func (f *fakeRepos) ShowTime(_ context.Context, id int64) (*domain.ShowTime, error) {
	st, ok := f.showTimes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return st, nil
}

func (f *fakeRepos) SeatsWithType(_ context.Context, ids []int64) ([]domain.Seat, error) {
	var out []domain.Seat
	for _, id := range ids {
		if s, ok := f.seats[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepos) RefreshmentsByIDs(_ context.Context, ids []int64) (map[int64]domain.Refreshment, error) {
	out := make(map[int64]domain.Refreshment)
	for _, id := range ids {
		if rf, ok := f.refreshments[id]; ok && rf.Offered {
			out[id] = rf
		}
	}
	return out, nil
}

func (f *fakeRepos) SpecialDateOn(_ context.Context, _ time.Time) (*domain.SpecialDate, error) {
	return f.special, nil
}

func (f *fakeRepos) DayTypeOn(_ context.Context, _ time.Weekday) (*domain.DayType, error) {
	return f.dayType, nil
}

func (f *fakeRepos) Create(_ context.Context, b *domain.Booking, seats []domain.BookSeat, refreshments []domain.BookRefreshment) error {
	f.created = b
	f.createdSeats = seats
	f.createdRefr = refreshments
	return nil
}

func (f *fakeRepos) LiveSeatConflicts(_ context.Context, _ int64, seatIDs []int64) ([]int64, error) {
	var conflicts []int64
	for _, id := range seatIDs {
		if f.liveSeats[id] {
			conflicts = append(conflicts, id)
		}
	}
	return conflicts, nil
}

func (f *fakeRepos) GetDetail(_ context.Context, id uuid.UUID) (*domain.BookingDetail, error) {
	if f.created == nil || f.created.ID != id {
		return nil, repository.ErrNotFound
	}
	return &domain.BookingDetail{
		Booking:      *f.created,
		Seats:        f.createdSeats,
		Refreshments: f.createdRefr,
	}, nil
}

func (f *fakeRepos) GetByCode(_ context.Context, code string) (*domain.Voucher, error) {
	v, ok := f.vouchers[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeRepos) DecrementStock(_ context.Context, id int64) error {
	f.decrements[id]++
	return nil
}

// newHoldFixture seeds showtime 10 on a surcharged weekday with three seats,
// one offered refreshment and a capped percent voucher.
func newHoldFixture() *fakeRepos {
	repos := newFakeRepos()

	repos.showTimes[10] = &domain.ShowTime{
		ID:        10,
		MovieID:   1,
		RoomID:    1,
		StartTime: time.Date(2026, 9, 5, 19, 0, 0, 0, time.UTC),
	}
	repos.dayType = &domain.DayType{ID: 2, Weekday: time.Saturday, AdditionalPrice: 5000}

	seatType := domain.TypeSeat{ID: 1, Name: "standard", Price: 100000}
	for _, id := range []int64{1, 2, 3} {
		repos.seats[id] = domain.Seat{ID: id, RoomID: 1, TypeSeat: seatType}
	}

	repos.refreshments[5] = domain.Refreshment{ID: 5, Name: "popcorn", Price: 20000, Offered: true}

	percent := int64(10)
	maxDiscount := int64(20000)
	repos.vouchers["SUMMER10"] = &domain.Voucher{
		ID: 42, Code: "SUMMER10", Number: 5,
		DiscountPercent: &percent, MaxDiscountValue: &maxDiscount,
	}

	return repos
}

func newTestService(repos Repos, locker SeatLocker, tx TxRunner) *Service {
	return &Service{
		repos:  repos,
		locker: locker,
		tx:     tx,
		logger: slog.New(slog.DiscardHandler),
		cfg:    Config{HoldDuration: 300 * time.Second},
	}
}

func TestHoldBookingNoSeats(t *testing.T) {
	svc := newTestService(newHoldFixture(), newFakeLocker(), &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  1,
		ShowTimeID: 10,
	})

	assert.ErrorIs(t, err, ErrNoSeatsSelected)
}

func TestHoldBookingComputesTotal(t *testing.T) {
	repos := newHoldFixture()
	svc := newTestService(repos, newFakeLocker(), &fakeTxRunner{})

	res, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:    7,
		ShowTimeID:   10,
		SeatIDs:      []int64{1, 2},
		VoucherCode:  "SUMMER10",
		Refreshments: []pricing.RefreshmentItem{{RefreshmentID: 5, Quantity: 2}},
	})
	require.NoError(t, err)

	// 2 seats at 100000+5000, 2 popcorn at 20000, 10% of 250000 capped
	// at 20000.
	assert.Equal(t, int64(230000), res.TotalPrice)

	require.NotNil(t, repos.created)
	assert.Equal(t, res.BookingID, repos.created.ID)
	assert.Equal(t, domain.BookingPending, repos.created.Status)
	assert.Equal(t, int64(230000), repos.created.TotalBookingPrice)
	require.NotNil(t, repos.created.VoucherID)
	assert.Equal(t, int64(42), *repos.created.VoucherID)

	var seatSum, refrSum int64
	for _, s := range repos.createdSeats {
		seatSum += s.TotalSeatPrice
	}
	for _, r := range repos.createdRefr {
		refrSum += r.TotalPrice
	}
	assert.Equal(t, seatSum+refrSum-20000, repos.created.TotalBookingPrice)

	// Stock goes down exactly once per redeemed hold.
	assert.Equal(t, 1, repos.decrements[42])
}

func TestHoldBookingSeatsNotFound(t *testing.T) {
	repos := newHoldFixture()
	locker := newFakeLocker()
	svc := newTestService(repos, locker, &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  7,
		ShowTimeID: 10,
		SeatIDs:    []int64{1, 99},
	})

	var notFound SeatsNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []int64{99}, notFound.SeatIDs)

	// Catalog inconsistency rolls everything back: no row, no locks left.
	assert.Nil(t, repos.created)
	assert.Empty(t, locker.held)
}

func TestHoldBookingLiveSeatRecheck(t *testing.T) {
	repos := newHoldFixture()
	repos.liveSeats[2] = true
	locker := newFakeLocker()
	svc := newTestService(repos, locker, &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:   7,
		ShowTimeID:  10,
		SeatIDs:     []int64{1, 2},
		VoucherCode: "SUMMER10",
	})

	var booked SeatsAlreadyBookedError
	require.ErrorAs(t, err, &booked)
	assert.Equal(t, []int64{2}, booked.SeatIDs)

	assert.Nil(t, repos.created)
	assert.Empty(t, locker.held)
	// The re-check fires before any voucher work.
	assert.Empty(t, repos.decrements)
}

func TestHoldBookingShowTimeMissing(t *testing.T) {
	repos := newHoldFixture()
	svc := newTestService(repos, newFakeLocker(), &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  7,
		ShowTimeID: 404,
		SeatIDs:    []int64{1},
	})

	assert.ErrorIs(t, err, ErrShowTimeMissing)
	assert.Nil(t, repos.created)
}

func TestHoldBookingUnknownVoucher(t *testing.T) {
	repos := newHoldFixture()
	svc := newTestService(repos, newFakeLocker(), &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:   7,
		ShowTimeID:  10,
		SeatIDs:     []int64{1},
		VoucherCode: "NOPE",
	})

	assert.ErrorIs(t, err, ErrVoucherNotFound)
	assert.Nil(t, repos.created)
}

func TestHoldBookingExhaustedVoucher(t *testing.T) {
	repos := newHoldFixture()
	repos.vouchers["SUMMER10"].Number = 0
	svc := newTestService(repos, newFakeLocker(), &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:   7,
		ShowTimeID:  10,
		SeatIDs:     []int64{1},
		VoucherCode: "SUMMER10",
	})

	assert.ErrorIs(t, err, pricing.ErrVoucherExhausted)
	assert.Nil(t, repos.created)
	assert.Empty(t, repos.decrements)
}

func TestHoldBookingConflictReleasesAcquiredLocks(t *testing.T) {
	locker := newFakeLocker()
	locker.denied[3] = true
	runner := &fakeTxRunner{}
	svc := newTestService(newHoldFixture(), locker, runner)

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  1,
		ShowTimeID: 10,
		SeatIDs:    []int64{1, 2, 3},
	})

	var unavailable SeatUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, int64(3), unavailable.SeatID)

	// Every lock taken before the losing seat is released again.
	assert.Empty(t, locker.held)
	assert.ElementsMatch(t, []string{
		redisrepo.KeySeatLock(10, 1),
		redisrepo.KeySeatLock(10, 2),
	}, locker.released)

	// The transaction is never opened for a lost race.
	assert.False(t, runner.called)
}

func TestHoldBookingConflictWithExistingHolder(t *testing.T) {
	locker := newFakeLocker()
	_, err := locker.Acquire(context.Background(), 10, 2, "someone-else", time.Minute)
	require.NoError(t, err)

	svc := newTestService(newHoldFixture(), locker, &fakeTxRunner{})

	_, err = svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  1,
		ShowTimeID: 10,
		SeatIDs:    []int64{1, 2},
	})

	var unavailable SeatUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, int64(2), unavailable.SeatID)

	// The rival's lock survives the compensation untouched.
	assert.Equal(t, "someone-else", locker.held[redisrepo.KeySeatLock(10, 2)])
	assert.NotContains(t, locker.held, redisrepo.KeySeatLock(10, 1))
}

func TestHoldBookingTxFailureReleasesAllLocks(t *testing.T) {
	locker := newFakeLocker()
	txErr := errors.New("boom")
	svc := newTestService(newHoldFixture(), locker, &fakeTxRunner{err: txErr})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  1,
		ShowTimeID: 10,
		SeatIDs:    []int64{1, 2, 3},
	})

	assert.ErrorIs(t, err, txErr)
	assert.Empty(t, locker.held)
	assert.Len(t, locker.released, 3)
}

func TestHoldBookingLockTTLMatchesHoldDuration(t *testing.T) {
	locker := newFakeLocker()
	svc := newTestService(newHoldFixture(), locker, &fakeTxRunner{})

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  7,
		ShowTimeID: 10,
		SeatIDs:    []int64{1, 2},
	})
	require.NoError(t, err)

	for _, key := range []string{redisrepo.KeySeatLock(10, 1), redisrepo.KeySeatLock(10, 2)} {
		assert.Equal(t, 300*time.Second, locker.ttls[key])
		assert.Equal(t, "7", locker.held[key])
	}
}

func TestHoldBookingLogsAfterCommit(t *testing.T) {
	var buf bytes.Buffer
	svc := newTestService(newHoldFixture(), newFakeLocker(), &fakeTxRunner{})
	svc.logger = slog.New(slog.NewTextHandler(&buf, nil))

	res, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  7,
		ShowTimeID: 10,
		SeatIDs:    []int64{1},
	})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "booking held")
	assert.Contains(t, buf.String(), res.BookingID.String())
}

func TestHoldBookingNoLogOnRollback(t *testing.T) {
	var buf bytes.Buffer
	repos := newHoldFixture()
	repos.liveSeats[1] = true
	svc := newTestService(repos, newFakeLocker(), &fakeTxRunner{})
	svc.logger = slog.New(slog.NewTextHandler(&buf, nil))

	_, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  7,
		ShowTimeID: 10,
		SeatIDs:    []int64{1},
	})
	require.Error(t, err)

	assert.NotContains(t, buf.String(), "booking held")
}

func TestGetBooking(t *testing.T) {
	repos := newHoldFixture()
	svc := newTestService(repos, newFakeLocker(), &fakeTxRunner{})

	res, err := svc.HoldBooking(context.Background(), HoldBookingInput{
		AccountID:  7,
		ShowTimeID: 10,
		SeatIDs:    []int64{1, 2},
	})
	require.NoError(t, err)

	detail, err := svc.GetBooking(context.Background(), res.BookingID)
	require.NoError(t, err)
	assert.Equal(t, res.BookingID, detail.Booking.ID)
	assert.Len(t, detail.Seats, 2)

	_, err = svc.GetBooking(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}
