package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drfirst/go-erezept/internal/notification"
)

// CommandType names a reminder command.
type CommandType string

const (
	CommandRemoveAllPending CommandType = "remove_all_pending"
	CommandAdd              CommandType = "add"
)

// Command is one mutation of a remote notification center. Commands of one
// device share a partition key so they are applied in order.
type Command struct {
	Type     CommandType           `json:"type"`
	Request  *notification.Request `json:"request,omitempty"`
	IssuedAt time.Time             `json:"issued_at"`
}

// Encode returns the JSON form of c.
func (c Command) Encode() ([]byte, error) {
	if c.Type == CommandAdd && c.Request == nil {
		return nil, fmt.Errorf("add command without request")
	}
	return json.Marshal(c)
}

// DecodeCommand parses a command produced by Encode.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("decode reminder command: %w", err)
	}
	switch c.Type {
	case CommandRemoveAllPending:
	case CommandAdd:
		if c.Request == nil {
			return Command{}, fmt.Errorf("decode reminder command: add without request")
		}
	default:
		return Command{}, fmt.Errorf("decode reminder command: unknown type %q", c.Type)
	}
	return c, nil
}

// Apply executes c against backend.
func (c Command) Apply(ctx context.Context, backend notification.Backend) error {
	switch c.Type {
	case CommandRemoveAllPending:
		return backend.RemoveAllPending(ctx)
	case CommandAdd:
		return backend.Add(ctx, *c.Request)
	default:
		return fmt.Errorf("unknown reminder command %q", c.Type)
	}
}

// CommandHandler returns a MessageHandler that decodes each record and applies
// it to backend.
func CommandHandler(backend notification.Backend) MessageHandler {
	return func(ctx context.Context, msg *ConsumedMessage) error {
		cmd, err := DecodeCommand(msg.Value)
		if err != nil {
			return err
		}
		return cmd.Apply(ctx, backend)
	}
}
