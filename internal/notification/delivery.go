package notification

import (
	"context"
	"time"
)

// Delivery is one firing of a pending request.
type Delivery struct {
	Request Request
	FireAt  time.Time
}

// JobID identifies the delivery in worker pool logs.
func (d Delivery) JobID() string { return d.Request.Identifier }

// Deliverer presents a fired request to the user, e.g. as a push message.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, d Delivery) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }
