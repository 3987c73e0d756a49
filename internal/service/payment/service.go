package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/gateway"
	"github.com/kirinyoku/cinego/internal/repository"
	postgresrepo "github.com/kirinyoku/cinego/internal/repository/postgres"
)

// Bookings is the slice of the booking store the payment lifecycle needs.
type Bookings interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	BeginPayment(ctx context.Context, id uuid.UUID, intentID string) error
	ConfirmPaid(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	ExpireUnpaid(ctx context.Context, id uuid.UUID) (string, bool, error)
}

// DelayQueue schedules the compensating expiry job for unpaid bookings.
type DelayQueue interface {
	Enqueue(ctx context.Context, jobID, payload string, delay time.Duration) error
	Remove(ctx context.Context, jobID string) error
}

type Config struct {
	PaymentExpiration time.Duration
}

// Service drives the payment-intent state machine: it opens intents at the
// gateway, reacts to webhook outcomes and arms the delayed job that expires
// bookings nobody paid for.
type Service struct {
	bookings Bookings
	gateway  gateway.PaymentGateway
	queue    DelayQueue
	logger   *slog.Logger
	cfg      Config
}

func New(
	store *postgresrepo.Store,
	gw gateway.PaymentGateway,
	queue DelayQueue,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PaymentExpiration <= 0 {
		cfg.PaymentExpiration = 10 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		bookings: store.Bookings(),
		gateway:  gw,
		queue:    queue,
		logger:   logger,
		cfg:      cfg,
	}
}

// ExpirePayload is the delayed-job payload for one unpaid booking.
type ExpirePayload struct {
	BookingID       uuid.UUID `json:"booking_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
}

// The job id is keyed by booking so re-arming stays idempotent.
func expireJobID(bookingID uuid.UUID) string {
	return "expire:" + bookingID.String()
}

type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	Amount          int64
}

// CreatePaymentIntent opens a gateway intent sized at the booking total,
// moves the booking PENDING -> PENDING_PAYMENT and arms the delayed expiry
// job for the payment-expiration window.
//
// Returns:
//   - error: ErrBookingNotFound if the booking does not exist or belongs to
//     another account.
//   - error: ErrPaymentAlreadyOpen if the booking already left PENDING.
func (s *Service) CreatePaymentIntent(ctx context.Context, bookingID uuid.UUID, accountID int64) (*IntentResult, error) {
	const op = "service.payment.CreatePaymentIntent"

	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if accountID != 0 && b.AccountID != accountID {
		return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
	}

	intent, err := s.gateway.CreateIntent(
		ctx,
		b.TotalBookingPrice,
		strconv.FormatInt(b.AccountID, 10),
		map[string]string{"booking_id": bookingID.String()},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.bookings.BeginPayment(ctx, bookingID, intent.ID); err != nil {
		// The freshly opened intent is orphaned; close it best effort.
		if cancelErr := s.gateway.CancelIntent(ctx, intent.ID); cancelErr != nil {
			s.logger.Warn("failed to cancel orphaned intent",
				"intent_id", intent.ID, "error", cancelErr)
		}

		if errors.Is(err, repository.ErrConflict) {
			// A previous attempt may have flipped the booking and then died
			// before its expiry job was armed. Re-arm here so a booking can
			// never sit in PENDING_PAYMENT with no job; Enqueue is idempotent
			// per job id, so an already-armed job keeps its fire time.
			s.rearmExpiry(ctx, bookingID)
			return nil, fmt.Errorf("%s:%w", op, ErrPaymentAlreadyOpen)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.armExpiry(ctx, bookingID, intent.ID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          b.TotalBookingPrice,
	}, nil
}

func (s *Service) armExpiry(ctx context.Context, bookingID uuid.UUID, intentID string) error {
	payload, _ := json.Marshal(ExpirePayload{
		BookingID:       bookingID,
		PaymentIntentID: intentID,
	})
	return s.queue.Enqueue(ctx, expireJobID(bookingID), string(payload), s.cfg.PaymentExpiration)
}

// rearmExpiry restores the expiry job for a booking already in
// PENDING_PAYMENT. Best effort; the caller is returning a conflict either
// way.
func (s *Service) rearmExpiry(ctx context.Context, bookingID uuid.UUID) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil || b.Status != domain.BookingPendingPayment || b.PaymentIntentID == nil {
		return
	}

	if err := s.armExpiry(ctx, bookingID, *b.PaymentIntentID); err != nil {
		s.logger.Warn("failed to re-arm expiry job", "booking_id", bookingID, "error", err)
	}
}

// Outcome is the resolution a webhook event maps to. Every event is either
// a success, a failure, or noise to acknowledge and drop.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

// OutcomeFor maps a gateway event type to exactly one outcome.
func OutcomeFor(eventType string) Outcome {
	switch eventType {
	case "payment_intent.succeeded":
		return OutcomeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return OutcomeFailed
	default:
		return OutcomeIgnored
	}
}

// HandleWebhook dispatches a verified gateway event to the matching
// idempotent handler. Events without a booking reference and events for
// bookings that are already resolved are acknowledged silently.
func (s *Service) HandleWebhook(ctx context.Context, ev *gateway.WebhookEvent) error {
	const op = "service.payment.HandleWebhook"

	raw := ev.PaymentIntent.Metadata["booking_id"]
	if raw == "" {
		return nil
	}

	bookingID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn("webhook carries unparseable booking id", "booking_id", raw)
		return nil
	}

	switch OutcomeFor(ev.Type) {
	case OutcomeSucceeded:
		return s.handleSucceeded(ctx, bookingID)
	case OutcomeFailed:
		return s.handleFailed(ctx, bookingID)
	default:
		return nil
	}
}

func (s *Service) handleSucceeded(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.payment.handleSucceeded"

	confirmed, err := s.bookings.ConfirmPaid(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.queue.Remove(ctx, expireJobID(bookingID)); err != nil {
		s.logger.Warn("failed to disarm expiry job", "booking_id", bookingID, "error", err)
	}

	if !confirmed {
		s.logger.Info("success webhook for already-resolved booking", "booking_id", bookingID)
	}

	return nil
}

func (s *Service) handleFailed(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.payment.handleFailed"

	if err := s.queue.Remove(ctx, expireJobID(bookingID)); err != nil {
		s.logger.Warn("failed to disarm expiry job", "booking_id", bookingID, "error", err)
	}

	// The booking row goes away; its seat locks are left to expire by TTL.
	deleted, err := s.bookings.Delete(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if !deleted {
		s.logger.Info("failure webhook for already-resolved booking", "booking_id", bookingID)
	}

	return nil
}

// CancelPayment is the user-initiated abort of a payment in flight.
//
// Returns:
//   - error: ErrBookingNotFound if the booking does not exist or belongs to
//     another account.
//   - error: ErrNotAwaitingPayment unless the booking is PENDING_PAYMENT.
func (s *Service) CancelPayment(ctx context.Context, bookingID uuid.UUID, accountID int64) error {
	const op = "service.payment.CancelPayment"

	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if accountID != 0 && b.AccountID != accountID {
		return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
	}

	if b.Status != domain.BookingPendingPayment {
		return fmt.Errorf("%s:%w", op, ErrNotAwaitingPayment)
	}

	if b.PaymentIntentID != nil {
		if err := s.gateway.CancelIntent(ctx, *b.PaymentIntentID); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	if err := s.queue.Remove(ctx, expireJobID(bookingID)); err != nil {
		s.logger.Warn("failed to disarm expiry job", "booking_id", bookingID, "error", err)
	}

	if _, err := s.bookings.Delete(ctx, bookingID); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// ExpireBooking is the delayed-job handler that fires once the payment
// window elapses. Deliveries are at-least-once, so a booking that a webhook
// or a manual cancel already resolved is a silent no-op.
func (s *Service) ExpireBooking(ctx context.Context, payload string) error {
	const op = "service.payment.ExpireBooking"

	var p ExpirePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	intentID, expired, err := s.bookings.ExpireUnpaid(ctx, p.BookingID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if !expired {
		return nil
	}

	if intentID == "" {
		intentID = p.PaymentIntentID
	}
	if intentID != "" {
		// The booking is already gone; gateway cleanup is best effort.
		if err := s.gateway.CancelIntent(ctx, intentID); err != nil {
			s.logger.Warn("failed to cancel intent for expired booking",
				"booking_id", p.BookingID, "intent_id", intentID, "error", err)
		}
	}

	s.logger.Info("expired unpaid booking", "booking_id", p.BookingID)

	return nil
}
