package service

import (
	"log/slog"

	"github.com/kirinyoku/cinego/internal/gateway"
	postgres "github.com/kirinyoku/cinego/internal/repository/postgres"
	"github.com/kirinyoku/cinego/internal/service/booking"
	"github.com/kirinyoku/cinego/internal/service/payment"
)

type Services struct {
	Booking *booking.Service
	Payment *payment.Service
}

type Config struct {
	Booking booking.Config
	Payment payment.Config
}

func NewServices(
	store *postgres.Store,
	locker booking.SeatLocker,
	gw gateway.PaymentGateway,
	queue payment.DelayQueue,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Booking: booking.New(store, locker, logger, cfg.Booking),
		Payment: payment.New(store, gw, queue, logger, cfg.Payment),
	}
}
