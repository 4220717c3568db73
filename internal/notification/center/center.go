// Package center is a server-side notification center. It holds pending
// notification requests, fires them when their trigger is due and hands the
// firing to a Deliverer on a worker pool.
package center

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/notification"
	"github.com/drfirst/go-erezept/internal/observability/metrics"
	"github.com/drfirst/go-erezept/pkg/workerpool"
)

// ErrNotAuthorized is returned by Add before authorization was granted.
var ErrNotAuthorized = errors.New("notifications not authorized")

// Config holds notification center configuration.
type Config struct {
	// Location evaluates trigger wall-clock times.
	Location *time.Location
	// AutoGrant grants every authorization request.
	AutoGrant bool
	Pool      workerpool.Config
}

type pending struct {
	req  notification.Request
	next time.Time
}

// Center implements notification.Backend.
type Center struct {
	cfg       Config
	deliverer notification.Deliverer
	pool      *workerpool.Pool[notification.Delivery]
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu         sync.Mutex
	pending    map[string]pending
	authorized bool
	refresh    chan struct{}
}

var _ notification.Backend = (*Center)(nil)

// New creates a notification center. m may be nil.
func New(cfg Config, deliverer notification.Deliverer, m *metrics.Metrics, logger *zap.Logger) (*Center, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	c := &Center{
		cfg:       cfg,
		deliverer: deliverer,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		pending:   make(map[string]pending),
		refresh:   make(chan struct{}, 1),
	}

	pool, err := workerpool.New(cfg.Pool, c.deliver, logger.Named("delivery"))
	if err != nil {
		return nil, err
	}
	pool.OnResult(func(d notification.Delivery, err error) {
		if err != nil {
			m.Delivered("failed")
			return
		}
		m.Delivered("sent")
	})
	c.pool = pool
	return c, nil
}

func (c *Center) deliver(ctx context.Context, d notification.Delivery) error {
	return c.deliverer.Deliver(ctx, d)
}

// Add schedules req. A request whose trigger never fires again is dropped.
// At the pending ceiling the request firing last is dropped, which may be req.
// A request with an identifier already pending replaces it.
func (c *Center) Add(_ context.Context, req notification.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authorized {
		return ErrNotAuthorized
	}

	next, ok := req.Trigger.NextFire(c.now(), c.cfg.Location)
	if !ok {
		c.logger.Debug("dropping request without future fire date",
			zap.String("identifier", req.Identifier))
		return nil
	}

	if _, exists := c.pending[req.Identifier]; !exists && len(c.pending) >= notification.MaxPendingRequests {
		latestID, latest := c.latestLocked()
		if !next.Before(latest.next) {
			c.evicted(req.Identifier, next)
			return nil
		}
		delete(c.pending, latestID)
		c.evicted(latestID, latest.next)
	}

	c.pending[req.Identifier] = pending{req: req, next: next}
	c.metrics.SetPending(len(c.pending))
	c.signal()
	return nil
}

func (c *Center) evicted(id string, next time.Time) {
	c.metrics.Evicted()
	c.logger.Warn("pending notification ceiling reached, dropping request",
		zap.String("identifier", id),
		zap.Time("next_fire", next),
		zap.Int("ceiling", notification.MaxPendingRequests))
}

func (c *Center) latestLocked() (string, pending) {
	var (
		id     string
		latest pending
	)
	for k, p := range c.pending {
		if id == "" || p.next.After(latest.next) || (p.next.Equal(latest.next) && k > id) {
			id, latest = k, p
		}
	}
	return id, latest
}

// RemoveAllPending cancels every pending request.
func (c *Center) RemoveAllPending(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = make(map[string]pending)
	c.metrics.SetPending(0)
	c.signal()
	return nil
}

// RequestAuthorization grants authorization when AutoGrant is set. Otherwise
// it reports the current grant.
func (c *Center) RequestAuthorization(_ context.Context, opts notification.AuthorizationOptions) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.AutoGrant {
		c.authorized = true
	}
	c.logger.Info("notification authorization requested",
		zap.Uint8("options", uint8(opts)),
		zap.Bool("granted", c.authorized))
	return c.authorized, nil
}

// IsAuthorized reports whether requests are accepted.
func (c *Center) IsAuthorized(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// SetAuthorized grants or revokes authorization. Revoking keeps pending
// requests but stops new ones from being added.
func (c *Center) SetAuthorized(granted bool) {
	c.mu.Lock()
	c.authorized = granted
	c.mu.Unlock()
}

// Pending returns the pending requests ordered by their next fire time.
func (c *Center) Pending() []notification.Delivery {
	c.mu.Lock()
	out := make([]notification.Delivery, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, notification.Delivery{Request: p.req, FireAt: p.next})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Request.Identifier < out[j].Request.Identifier
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

func (c *Center) signal() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Run fires due requests until ctx is cancelled, then drains the delivery pool.
func (c *Center) Run(ctx context.Context) error {
	c.pool.Start()
	c.logger.Info("notification center started")

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)

	for {
		next := c.fireDue(c.now())

		stopTimer(timer)
		if !next.IsZero() {
			wait := next.Sub(c.now())
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
			c.logger.Debug("next fire scheduled", zap.Duration("in", wait), zap.Time("at", next))
		}

		select {
		case <-ctx.Done():
			c.logger.Info("notification center stopping")
			return c.pool.Stop()
		case <-c.refresh:
		case <-timer.C:
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// fireDue submits every request due at now and returns the earliest
// remaining fire time, or zero when nothing is pending.
func (c *Center) fireDue(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	var earliest time.Time
	for id, p := range c.pending {
		if p.next.After(now) {
			if earliest.IsZero() || p.next.Before(earliest) {
				earliest = p.next
			}
			continue
		}

		d := notification.Delivery{Request: p.req, FireAt: p.next}
		if err := c.pool.Submit(d); err != nil {
			c.metrics.Delivered("dropped")
			c.logger.Error("failed to queue delivery",
				zap.String("identifier", id),
				zap.Error(err))
		}

		next, ok := p.req.Trigger.NextFire(now, c.cfg.Location)
		if !ok {
			delete(c.pending, id)
			continue
		}
		c.pending[id] = pending{req: p.req, next: next}
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	c.metrics.SetPending(len(c.pending))
	return earliest
}
