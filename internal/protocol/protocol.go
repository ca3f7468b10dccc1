// Package protocol defines the JSON wire format shared by the server and
// the headless client: an envelope with a type discriminator plus one typed
// payload struct per message kind.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownType    = errors.New("unknown message type")
)

// Make builds an envelope around the given payload, stamping the current
// send time.
func Make(t MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Ts: time.Now().UnixMilli(), Payload: data}, nil
}

// Encode builds and marshals an envelope in one step.
func Encode(t MessageType, payload any) ([]byte, error) {
	msg, err := Make(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode parses an envelope without touching its payload.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return msg, nil
}

// UnmarshalPayload decodes the envelope payload into the given struct.
func (m Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrInvalidMessage, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidMessage, m.Type, err)
	}
	return nil
}

// SendDelay estimates the one-way delay of a message from its embedded send
// timestamp. Clock skew can make the raw difference negative, in which case
// zero is returned.
func (m Message) SendDelay(receivedAt time.Time) time.Duration {
	if m.Ts <= 0 {
		return 0
	}
	d := receivedAt.Sub(time.UnixMilli(m.Ts))
	if d < 0 {
		return 0
	}
	return d
}

// Handler receives decoded messages by kind. Unset handlers drop the
// message. Batch envelopes are unwrapped in order before dispatch.
type Handler struct {
	OnJoin       func(Message, JoinPayload)
	OnIDAssigned func(Message, IDAssignedPayload)
	OnSync       func(Message, SyncPayload)
	OnMove       func(Message, MovePayload)
	OnUpdate     func(Message, UpdatePayload)
	OnChat       func(Message, ChatPayload)
	OnLeave      func(Message, LeavePayload)
}

// Dispatch routes one envelope to the matching handler. It returns an error
// for unparseable payloads and unknown types; callers log and drop.
func (h *Handler) Dispatch(msg Message) error {
	switch msg.Type {
	case MsgPlayerJoin:
		var p JoinPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnJoin != nil {
			h.OnJoin(msg, p)
		}
	case MsgPlayerIDAssigned:
		var p IDAssignedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnIDAssigned != nil {
			h.OnIDAssigned(msg, p)
		}
	case MsgPlayersSync:
		var p SyncPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnSync != nil {
			h.OnSync(msg, p)
		}
	case MsgPlayerMove:
		var p MovePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnMove != nil {
			h.OnMove(msg, p)
		}
	case MsgPlayerUpdate:
		var p UpdatePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnUpdate != nil {
			h.OnUpdate(msg, p)
		}
	case MsgChat:
		var p ChatPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnChat != nil {
			h.OnChat(msg, p)
		}
	case MsgPlayerLeave:
		var p LeavePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if h.OnLeave != nil {
			h.OnLeave(msg, p)
		}
	case MsgBatch:
		var p BatchPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		for _, inner := range p.Updates {
			if inner.Type == MsgBatch {
				// Nested batches are not produced; refuse them rather
				// than recurse on attacker-controlled depth.
				return fmt.Errorf("%w: nested batch", ErrInvalidMessage)
			}
			if err := h.Dispatch(inner); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return nil
}
