package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// Emitter publishes JSON events to an optional bus. A nil Emitter, or
// one built without a bus, drops every event. Failures are logged and
// never returned to the caller.
type Emitter struct {
	bus       domain.EventBus
	attempts  int
	baseDelay time.Duration
}

// NewEmitter wraps b. attempts bounds publish retries.
func NewEmitter(b domain.EventBus, attempts int) *Emitter {
	if attempts <= 0 {
		attempts = 1
	}
	return &Emitter{bus: b, attempts: attempts, baseDelay: 50 * time.Millisecond}
}

// Emit encodes v and publishes it on topic.
func (e *Emitter) Emit(ctx context.Context, topic string, v any) {
	if e == nil || e.bus == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}

	err = retry.Do(ctx, e.attempts, e.baseDelay, func() error {
		err := e.bus.Publish(ctx, topic, payload)
		if errors.Is(err, ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		slog.Warn("event publish failed", "topic", topic, "error", err)
	}
}
