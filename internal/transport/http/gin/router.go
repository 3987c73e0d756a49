package httpgin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/cinego/internal/gateway"
	"github.com/kirinyoku/cinego/internal/repository"
	"github.com/kirinyoku/cinego/internal/service"
	"github.com/kirinyoku/cinego/internal/service/booking"
	"github.com/kirinyoku/cinego/internal/service/payment"
	"github.com/kirinyoku/cinego/internal/service/pricing"
)

// WebhookVerifier authenticates inbound gateway notifications against the
// shared webhook secret.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, sigHeader string) (*gateway.WebhookEvent, error)
}

func NewRouter(
	svcs *service.Services,
	verifier WebhookVerifier,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/bookings/hold", handleHoldBooking(svcs))
	r.GET("/bookings/:id", handleGetBooking(svcs))
	r.POST("/bookings/:id/payment-intent", handleCreatePaymentIntent(svcs))
	r.POST("/bookings/:id/cancel", handleCancelPayment(svcs))

	r.POST("/webhooks/stripe", handleStripeWebhook(svcs, verifier, logger))

	return r
}

func handleHoldBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HoldBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		items := make([]pricing.RefreshmentItem, 0, len(req.Refreshments))
		for _, it := range req.Refreshments {
			items = append(items, pricing.RefreshmentItem{
				RefreshmentID: it.RefreshmentID,
				Quantity:      it.Quantity,
			})
		}

		res, err := svcs.Booking.HoldBooking(c.Request.Context(), booking.HoldBookingInput{
			AccountID:    req.AccountID,
			ShowTimeID:   req.ShowTimeID,
			SeatIDs:      req.SeatIDs,
			VoucherCode:  req.VoucherCode,
			Refreshments: items,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, HoldBookingResponse{
			BookingID:  res.BookingID.String(),
			TotalPrice: res.TotalPrice,
			ExpiresAt:  res.ExpiresAt.Format(time.RFC3339),
		})
	}
}

func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		detail, err := svcs.Booking.GetBooking(c.Request.Context(), bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, newBookingDetailResponse(detail))
	}
}

func handleCreatePaymentIntent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req CreatePaymentIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.Payment.CreatePaymentIntent(c.Request.Context(), bookingID, req.AccountID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, PaymentIntentResponse{
			PaymentIntentID: res.PaymentIntentID,
			ClientSecret:    res.ClientSecret,
			Amount:          res.Amount,
		})
	}
}

func handleCancelPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req CancelPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if err := svcs.Payment.CancelPayment(c.Request.Context(), bookingID, req.AccountID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func handleStripeWebhook(
	svcs *service.Services,
	verifier WebhookVerifier,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			badRequest(c, "failed to read body")
			return
		}

		ev, err := verifier.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			logger.Warn("webhook signature rejected", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
			return
		}

		if err := svcs.Payment.HandleWebhook(c.Request.Context(), ev); err != nil {
			// Non-2xx makes the gateway redeliver; the handlers are idempotent.
			logger.Error("webhook processing failed", "type", ev.Type, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "processing failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// --- Helpers ---

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var seatUnavailable booking.SeatUnavailableError
	var seatsBooked booking.SeatsAlreadyBookedError
	var seatsNotFound booking.SeatsNotFoundError
	var refreshmentNotFound pricing.RefreshmentNotFoundError

	switch {
	// booking service
	case errors.As(err, &seatUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: seatUnavailable.Error()})
		return
	case errors.As(err, &seatsBooked):
		c.JSON(http.StatusConflict, ErrorResponse{Error: seatsBooked.Error()})
		return
	case errors.Is(err, booking.ErrNoSeatsSelected):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no seats selected"})
		return
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, booking.ErrVoucherNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "voucher not found"})
		return
	// catalog corruption is a server fault, not a client error
	case errors.As(err, &seatsNotFound),
		errors.Is(err, booking.ErrShowTimeMissing):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "catalog inconsistency"})
		return
	// pricing
	case errors.As(err, &refreshmentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: refreshmentNotFound.Error()})
		return
	case errors.Is(err, pricing.ErrVoucherExhausted),
		errors.Is(err, repository.ErrVoucherExhausted),
		errors.Is(err, pricing.ErrVoucherNotStarted),
		errors.Is(err, pricing.ErrVoucherExpired),
		errors.Is(err, pricing.ErrBelowMinimumOrder):
		c.JSON(http.StatusConflict, ErrorResponse{Error: voucherErrMessage(err)})
		return
	// payment service
	case errors.Is(err, payment.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, payment.ErrPaymentAlreadyOpen):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment already started"})
		return
	case errors.Is(err, payment.ErrNotAwaitingPayment):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking is not awaiting payment"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func voucherErrMessage(err error) string {
	switch {
	case errors.Is(err, pricing.ErrVoucherExhausted),
		errors.Is(err, repository.ErrVoucherExhausted):
		return "voucher out of stock"
	case errors.Is(err, pricing.ErrVoucherNotStarted):
		return "voucher not yet valid"
	case errors.Is(err, pricing.ErrVoucherExpired):
		return "voucher expired"
	default:
		return "order below voucher minimum"
	}
}
