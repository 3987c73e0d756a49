package worker

import (
	"context"
	"log/slog"
	"time"
)

// Queue is the delayed-job store the worker drains.
type Queue interface {
	Claim(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Handler consumes one claimed payload. Delivery is at-least-once, so the
// handler must tolerate bookings that are already resolved.
type Handler func(ctx context.Context, payload string) error

// ExpiryWorker polls the delayed queue and feeds due payloads to the
// expiry handler until its context is cancelled.
type ExpiryWorker struct {
	queue    Queue
	handler  Handler
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func NewExpiryWorker(queue Queue, handler Handler, logger *slog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		queue:    queue,
		handler:  handler,
		logger:   logger,
		interval: time.Second,
		batch:    32,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *ExpiryWorker) drain(ctx context.Context) {
	for {
		payloads, err := w.queue.Claim(ctx, time.Now(), w.batch)
		if err != nil {
			w.logger.Error("failed to claim delayed jobs", "error", err)
			return
		}
		if len(payloads) == 0 {
			return
		}

		for _, p := range payloads {
			if err := w.handler(ctx, p); err != nil {
				w.logger.Error("delayed job failed", "error", err)
			}
		}

		if len(payloads) < w.batch {
			return
		}
	}
}
