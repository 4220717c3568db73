// Package pushover delivers fired medication reminders through the Pushover API.
package pushover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/notification"
)

// DefaultEndpoint is the Pushover message API.
const DefaultEndpoint = "https://api.pushover.net/1/messages.json"

// ErrMissingCredentials is returned when the token or user key is empty.
var ErrMissingCredentials = errors.New("pushover token and user key are required")

// APIError is a non-200 response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pushover api error: status %d, body %s", e.StatusCode, e.Body)
}

// Permanent reports whether retrying the same message cannot succeed.
// Pushover answers 4xx for invalid input and 429 when the quota is used up.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Client sends messages to one Pushover user.
type Client struct {
	Token    string
	User     string
	Endpoint string
	HTTP     *http.Client
	logger   *zap.Logger
}

// NewClient creates a client with a 10s HTTP timeout.
func NewClient(token, user string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Token:    token,
		User:     user,
		Endpoint: DefaultEndpoint,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

var _ notification.Deliverer = (*Client)(nil)

// Deliver sends the request content, stamped with its fire time.
func (c *Client) Deliver(ctx context.Context, d notification.Delivery) error {
	c.logger.Info("sending reminder",
		zap.String("identifier", d.Request.Identifier),
		zap.String("entry_id", d.Request.EntryID()),
		zap.Time("fire_at", d.FireAt),
		zap.Duration("delay", time.Since(d.FireAt)))
	return c.SendMessage(ctx, d.Request.Content.Title, d.Request.Content.Body, d.FireAt)
}

// SendMessage posts a single message.
func (c *Client) SendMessage(ctx context.Context, title, message string, at time.Time) error {
	if c.Token == "" || c.User == "" {
		return ErrMissingCredentials
	}

	params := url.Values{}
	params.Set("token", c.Token)
	params.Set("user", c.User)
	params.Set("title", title)
	params.Set("message", message)
	if !at.IsZero() {
		params.Set("timestamp", strconv.FormatInt(at.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("send pushover request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
