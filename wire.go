package chatsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound realtime event types.
const (
	EventMessageNew          = "message:new"
	EventMessageEdited       = "message:edited"
	EventMessageDeleted      = "message:deleted"
	EventMessageReaction     = "message:reaction"
	EventMessagePinned       = "message:pinned"
	EventConversationUpdated = "conversation:updated"
	EventConversationRead    = "conversation:read"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
)

// Outbound realtime intent types.
const (
	IntentJoin        = "conversation:join"
	IntentLeave       = "conversation:leave"
	IntentRead        = "conversation:read"
	IntentTypingStart = "typing:start"
	IntentTypingStop  = "typing:stop"
)

// Envelope is the wire format of every realtime frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ============================================================================
// Event Payload Types
// ============================================================================

// MessageRefPayload identifies a message in deleted events.
type MessageRefPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// ReactionPayload carries the full reaction list of a message.
type ReactionPayload struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	Reactions      []Reaction `json:"reactions"`
}

// PinPayload carries the pinned flag of a message.
type PinPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Pinned         bool   `json:"pinned"`
}

// ReadPayload is a read receipt.
type ReadPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// TypingPayload is a typing signal.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName,omitempty"`
}

// PresencePayload is a presence change.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// conversationPayload is the body of every outbound intent.
type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// errUnknownEvent is returned by decodeEvent for event types it does not handle.
var errUnknownEvent = errors.New("unknown event type")

// decodeEvent translates one inbound frame into an action.
func decodeEvent(env Envelope) (Action, error) {
	switch env.Type {
	case EventMessageNew:
		var m Message
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return MessageReceived{Message: m}, nil
	case EventMessageEdited:
		var m Message
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		return MessageEdited{Message: m}, nil
	case EventMessageDeleted:
		var p MessageRefPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return MessageDeleted{ConversationID: p.ConversationID, MessageID: p.MessageID}, nil
	case EventMessageReaction:
		var p ReactionPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return ReactionsChanged{ConversationID: p.ConversationID, MessageID: p.MessageID, Reactions: p.Reactions}, nil
	case EventMessagePinned:
		var p PinPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return PinChanged{ConversationID: p.ConversationID, MessageID: p.MessageID, Pinned: p.Pinned}, nil
	case EventConversationUpdated:
		var c Conversation
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		return ConversationUpserted{Conversation: c, PreserveUnread: true}, nil
	case EventConversationRead:
		var p ReadPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return ConversationRead{ConversationID: p.ConversationID, UserID: p.UserID, At: p.ReadAt}, nil
	case EventTypingStart:
		var p TypingPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return TypingStarted{ConversationID: p.ConversationID, UserID: p.UserID, DisplayName: p.DisplayName}, nil
	case EventTypingStop:
		var p TypingPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return TypingStopped{ConversationID: p.ConversationID, UserID: p.UserID}, nil
	case EventUserOnline:
		var p PresencePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return UserOnline{UserID: p.UserID}, nil
	case EventUserOffline:
		var p PresencePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return UserOffline{UserID: p.UserID}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownEvent, env.Type)
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}

// encodeIntent builds the frame for an outbound intent.
func encodeIntent(intent, conversationID string) ([]byte, error) {
	payload, err := json.Marshal(conversationPayload{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: intent, Payload: payload})
}
