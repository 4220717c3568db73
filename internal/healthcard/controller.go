package healthcard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/observability/metrics"
)

var (
	// ErrWrongCAN is returned by SessionOpener when the card rejects the CAN.
	ErrWrongCAN = errors.New("wrong card access number")
	// ErrUserCancelled is returned when the user dismissed the NFC session.
	ErrUserCancelled = errors.New("card session cancelled by user")
)

// Card is an open, secured channel to the health card.
type Card interface {
	// ResetRetryCounter unblocks the PIN using puk. An empty newPIN keeps the current PIN.
	ResetRetryCounter(ctx context.Context, puk, newPIN string) (StatusWord, error)
	ChangeReferenceData(ctx context.Context, oldPIN, newPIN string) (StatusWord, error)
}

// Session is one NFC session. It must be invalidated exactly once.
type Session interface {
	Card() Card
	// Invalidate ends the session. A non-empty message is shown as a failure.
	Invalidate(errorMessage string)
}

// SessionOpener establishes a secure session with the CAN.
// It reports ErrWrongCAN and ErrUserCancelled for those outcomes.
type SessionOpener interface {
	Open(ctx context.Context, can string) (Session, error)
}

// Controller runs one password operation per call.
type Controller struct {
	opener  SessionOpener
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewController creates a controller. m may be nil.
func NewController(opener SessionOpener, m *metrics.Metrics, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{opener: opener, metrics: m, logger: logger}
}

// Run opens a session with the mode's CAN, sends the single command the mode
// requires and classifies the answer. Session-level failures are returned as errors.
func (c *Controller) Run(ctx context.Context, mode Mode) (Response, error) {
	session, err := c.opener.Open(ctx, mode.cardAccessNumber())
	if err != nil {
		c.metrics.CardOperation(mode.Name(), sessionLabel(err))
		return Response{}, fmt.Errorf("open card session: %w", err)
	}

	sw, err := c.send(ctx, session.Card(), mode)
	if err != nil {
		session.Invalidate(err.Error())
		c.metrics.CardOperation(mode.Name(), sessionLabel(err))
		return Response{}, fmt.Errorf("%s: %w", mode.Name(), err)
	}

	resp := Classify(sw)
	if resp.Kind == ResponseSuccess {
		session.Invalidate("")
	} else {
		session.Invalidate(resp.Kind.String())
	}

	c.metrics.CardOperation(mode.Name(), resp.Kind.String())
	c.logger.Info("card password operation finished",
		zap.String("mode", mode.Name()),
		zap.Stringer("status_word", sw),
		zap.Stringer("response", resp.Kind),
		zap.Int("retries_left", resp.RetriesLeft))
	return resp, nil
}

func (c *Controller) send(ctx context.Context, card Card, mode Mode) (StatusWord, error) {
	switch m := mode.(type) {
	case ResetPINCounterWithoutNewSecret:
		return card.ResetRetryCounter(ctx, m.PUK, "")
	case ResetPINCounterWithNewSecret:
		return card.ResetRetryCounter(ctx, m.PUK, m.NewPIN)
	case ChangePINSecret:
		return card.ChangeReferenceData(ctx, m.OldPIN, m.NewPIN)
	default:
		return 0, fmt.Errorf("unsupported mode %T", mode)
	}
}

func sessionLabel(err error) string {
	switch {
	case errors.Is(err, ErrWrongCAN):
		return "wrong_can"
	case errors.Is(err, ErrUserCancelled):
		return "cancelled"
	default:
		return "session_error"
	}
}
