package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinego/internal/config"
	"github.com/kirinyoku/cinego/internal/gateway"
	"github.com/kirinyoku/cinego/internal/postgres"
	"github.com/kirinyoku/cinego/internal/redis"
	postgresrepo "github.com/kirinyoku/cinego/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/service"
	"github.com/kirinyoku/cinego/internal/service/booking"
	"github.com/kirinyoku/cinego/internal/service/payment"
	httpgin "github.com/kirinyoku/cinego/internal/transport/http/gin"
	"github.com/kirinyoku/cinego/internal/worker"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	worker     *worker.ExpiryWorker
	pool       *pgxpool.Pool
	rdb        *goredis.Client
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{
		DSN:      dsn,
		MinConns: cfg.Postgres.MinConns,
		MaxConns: cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	locker := redisrepo.NewSeatLocker(rdb)
	queue := redisrepo.NewDelayQueue(rdb)

	// Initialize payment gateway
	stripeGW, err := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stripe: %w", err)
	}

	// Initialize services
	services := service.NewServices(store, locker, stripeGW, queue, logger, service.Config{
		Booking: booking.Config{HoldDuration: cfg.Booking.HoldDuration},
		Payment: payment.Config{PaymentExpiration: cfg.Booking.PaymentExpiration},
	})

	// Initialize background expiry worker
	expiryWorker := worker.NewExpiryWorker(queue, services.Payment.ExpireBooking, logger)

	// Initialize Gin router
	router := httpgin.NewRouter(services, stripeGW, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		worker: expiryWorker,
		pool:   pgxPool,
		rdb:    rdb,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Start expiry worker
	g.Go(func() error {
		a.logger.Info("expiry worker started")
		if err := a.worker.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("expiry worker stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	err := g.Wait()

	a.pool.Close()
	if cerr := a.rdb.Close(); cerr != nil {
		a.logger.Warn("failed to close redis client", "error", cerr)
	}

	return err
}
