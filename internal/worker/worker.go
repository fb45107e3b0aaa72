// Package worker evaluates transactions submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Submitter evaluates an inbound transaction request.
type Submitter interface {
	Submit(ctx context.Context, req *domain.TransactionRequest) (*pipeline.Outcome, error)
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	submitter Submitter

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Topics to consume; defaults to the submitted-transaction topic.
	Topics []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, submitter Submitter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		submitter: submitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the configured topics.
func (w *Worker) Start(cfg Config) error {
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{domain.TopicTransactionSubmitted}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started", "topics", topics)
	return nil
}

// handleMessage evaluates one submitted transaction. Malformed or
// invalid payloads are dropped rather than redelivered.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.rejected.Add(1)
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	out, err := w.submitter.Submit(ctx, &req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			w.rejected.Add(1)
			slog.Warn("rejected submitted transaction",
				"message_id", msg.ID,
				"error", err,
			)
			return nil
		}
		w.failed.Add(1)
		return err
	}

	w.processed.Add(1)
	slog.Debug("submitted transaction processed",
		"message_id", msg.ID,
		"transaction_id", out.Transaction.ID,
		"risk_score", out.Signal.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped", "processed", w.processed.Load())
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Rejected          int64    `json:"rejected"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Rejected:          w.rejected.Load(),
		Failed:            w.failed.Load(),
	}
}
