package redpanda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/notification"
)

// Sink accepts encoded commands. *Producer writes to Redpanda directly;
// the postgres outbox stores them for a relay.
type Sink interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Ping(ctx context.Context) error
}

// PublisherConfig configures a ReminderPublisher.
type PublisherConfig struct {
	Topic string
	// PartitionKey is shared by all commands so a single partition keeps them ordered.
	PartitionKey string
	// Enabled is the user's notification opt-in; disabled publishers deny authorization.
	Enabled bool
}

// ReminderPublisher is a notification.Backend that forwards every call as a
// command to a remote notification center.
type ReminderPublisher struct {
	sink   Sink
	config PublisherConfig
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	authorized bool
}

var _ notification.Backend = (*ReminderPublisher)(nil)

// NewReminderPublisher creates a publisher writing to sink.
func NewReminderPublisher(sink Sink, cfg PublisherConfig, logger *zap.Logger) *ReminderPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderPublisher{sink: sink, config: cfg, logger: logger, now: time.Now}
}

// Add publishes an add command.
func (p *ReminderPublisher) Add(ctx context.Context, req notification.Request) error {
	return p.publish(ctx, Command{Type: CommandAdd, Request: &req})
}

// RemoveAllPending publishes a remove_all_pending command.
func (p *ReminderPublisher) RemoveAllPending(ctx context.Context) error {
	return p.publish(ctx, Command{Type: CommandRemoveAllPending})
}

// RequestAuthorization grants when notifications are enabled and the sink is reachable.
func (p *ReminderPublisher) RequestAuthorization(ctx context.Context, opts notification.AuthorizationOptions) (bool, error) {
	if !p.config.Enabled {
		p.logger.Info("notification authorization denied, reminders disabled")
		return false, nil
	}
	if err := p.sink.Ping(ctx); err != nil {
		return false, fmt.Errorf("reach reminder sink: %w", err)
	}

	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()

	p.logger.Info("notification authorization granted", zap.Uint8("options", uint8(opts)))
	return true, nil
}

// IsAuthorized reports whether RequestAuthorization succeeded before.
func (p *ReminderPublisher) IsAuthorized(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}

func (p *ReminderPublisher) publish(ctx context.Context, cmd Command) error {
	cmd.IssuedAt = p.now().UTC()
	value, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := p.sink.Publish(ctx, p.config.Topic, p.config.PartitionKey, value); err != nil {
		return fmt.Errorf("publish %s command: %w", cmd.Type, err)
	}
	return nil
}
