// Package reliable wraps a notification.Deliverer so every firing is delivered
// at most once and a failing provider is not hammered.
package reliable

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/notification"
	"github.com/drfirst/go-erezept/pkg/circuitbreaker"
	"github.com/drfirst/go-erezept/pkg/idempotency"
)

// permanent is implemented by provider errors that will fail the same way on retry.
type permanent interface {
	Permanent() bool
}

// Deliverer runs the inner deliverer inside an idempotency inbox and a circuit breaker.
type Deliverer struct {
	inner   notification.Deliverer
	breaker *circuitbreaker.CircuitBreaker
	inbox   *idempotency.Inbox
	logger  *zap.Logger
}

var _ notification.Deliverer = (*Deliverer)(nil)

// New creates a Deliverer.
func New(inner notification.Deliverer, breaker *circuitbreaker.CircuitBreaker, inbox *idempotency.Inbox, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{inner: inner, breaker: breaker, inbox: inbox, logger: logger}
}

// Deliver sends d once per (request, fire time). A repeated firing is
// skipped without error.
func (d *Deliverer) Deliver(ctx context.Context, delivery notification.Delivery) error {
	key := idempotency.GenerateKey(delivery.Request.Identifier, delivery.FireAt)

	err := d.inbox.Process(ctx, key, func(ctx context.Context) error {
		return d.breaker.Do(ctx, func(ctx context.Context) error {
			err := d.inner.Deliver(ctx, delivery)
			var p permanent
			if errors.As(err, &p) && p.Permanent() {
				return circuitbreaker.Permanent(idempotency.Terminal(err))
			}
			return err
		})
	})
	if errors.Is(err, idempotency.ErrDuplicate) {
		d.logger.Info("reminder already delivered",
			zap.String("identifier", delivery.Request.Identifier),
			zap.Time("fire_at", delivery.FireAt))
		return nil
	}
	return err
}
