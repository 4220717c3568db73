// Package idempotency provides an inbox that runs a handler at most once per key.
// Keys are derived from a notification request identifier and its fire time so a
// redelivered reminder is never pushed twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

var (
	// ErrDuplicate indicates the key was already processed or is in progress.
	ErrDuplicate = errors.New("duplicate: already processed")
	// ErrPreviouslyFailed indicates the key failed terminally before.
	ErrPreviouslyFailed = errors.New("previously failed permanently")
)

// Ledger persists inbox entries.
type Ledger interface {
	// Claim marks key as STARTED. It returns the status that blocked the
	// claim, or "" when the caller now owns the key.
	Claim(ctx context.Context, key string, now time.Time) (Status, error)
	// Settle records the final status of a claimed key.
	Settle(ctx context.Context, key string, status Status, now time.Time) error
	// Purge removes entries that expired before now.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Config holds configuration for the inbox
type Config struct {
	// TTL is how long a settled key is remembered
	TTL time.Duration
	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is considered abandoned
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TTL:             7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// Terminal marks a handler error that must not be retried.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

func isTerminal(err error) bool {
	var t terminalError
	return errors.As(err, &t)
}

// Inbox manages idempotent processing
type Inbox struct {
	ledger Ledger
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates a new inbox over ledger.
func NewInbox(ledger Ledger, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		ledger: ledger,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		now:    time.Now,
	}
}

// Process runs fn unless key was already claimed. A duplicate returns
// ErrDuplicate without calling fn.
func (i *Inbox) Process(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "inbox.process",
		trace.WithAttributes(attribute.String("idempotency_key", key)))
	defer span.End()

	blocked, err := i.ledger.Claim(ctx, key, i.now())
	if err != nil {
		return fmt.Errorf("failed to claim inbox key: %w", err)
	}
	switch blocked {
	case "":
	case StatusFailed:
		span.SetAttributes(attribute.Bool("previously_failed", true))
		return fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)
	default:
		span.SetAttributes(attribute.Bool("duplicate", true))
		return ErrDuplicate
	}

	if handlerErr := fn(ctx); handlerErr != nil {
		status := StatusRecoverable
		if isTerminal(handlerErr) {
			status = StatusFailed
		}
		if err := i.ledger.Settle(ctx, key, status, i.now()); err != nil {
			i.logger.Error("failed to settle inbox entry", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		return handlerErr
	}

	if err := i.ledger.Settle(ctx, key, StatusFinished, i.now()); err != nil {
		// The handler already ran, so only log.
		i.logger.Error("failed to mark inbox entry finished", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// GenerateKey derives the idempotency key of one firing of a notification request.
// The fire time is truncated to the minute to tolerate clock drift.
func GenerateKey(requestID string, fireAt time.Time) string {
	data := requestID + "|" + fireAt.UTC().Truncate(time.Minute).Format(time.RFC3339)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// StartCleanup starts the background purge loop.
func (i *Inbox) StartCleanup() {
	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.done = make(chan struct{})
	go i.cleanupLoop(ctx)
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the cleanup loop.
func (i *Inbox) Stop() {
	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop(ctx context.Context) {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := i.ledger.Purge(ctx, i.now())
			if err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				i.logger.Info("inbox cleanup completed", zap.Int64("deleted", n))
			}
		}
	}
}
