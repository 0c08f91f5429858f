package chatsync

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotConnected is returned when an outbound realtime intent is emitted
	// without an open connection.
	ErrNotConnected = errors.New("chatsync: realtime transport not connected")
	// ErrReconnectExhausted is reported once the reconnect budget is used up.
	ErrReconnectExhausted = errors.New("chatsync: reconnect attempts exhausted")
	// ErrUnknownConversation is returned by intents addressing a conversation
	// the engine does not know.
	ErrUnknownConversation = errors.New("chatsync: unknown conversation")
	// ErrUnknownMessage is returned by intents addressing a message the
	// engine does not know.
	ErrUnknownMessage = errors.New("chatsync: unknown message")
	// ErrSessionClosed is returned after a session has been closed.
	ErrSessionClosed = errors.New("chatsync: session closed")
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the remote store.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
	}
	return e.Code + ": " + e.Message
}

// User is a lightweight reference to a chat user.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Name returns the best human readable name for the user.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// EntityRef points at an object outside the chat domain (an order, a ticket, ...).
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationKind distinguishes the shape of a conversation.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
	KindEntity ConversationKind = "entity"
)

// ParticipantRole is the role of a participant inside a conversation.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Participant is one member of a conversation.
type Participant struct {
	UserID     string          `json:"userId"`
	User       *User           `json:"user,omitempty"`
	Role       ParticipantRole `json:"role"`
	Active     bool            `json:"active"`
	LastReadAt *time.Time      `json:"lastReadAt,omitempty"`
}

// Conversation is the normalized conversation record kept by the store.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Title        string           `json:"title,omitempty"`
	Participants []Participant    `json:"participants,omitempty"`
	Entity       *EntityRef       `json:"entity,omitempty"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt,omitempty"`
}

// Participant returns the participant entry for userID, if any.
func (c *Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ============================================================================
// Messages
// ============================================================================

// ContentType is the type of content a message carries.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentFile   ContentType = "file"
	ContentEntity ContentType = "entity"
	ContentSystem ContentType = "system"
)

// MessageStatus is the local lifecycle tag of a message.
type MessageStatus string

const (
	// StatusOptimistic marks a locally created message awaiting confirmation.
	StatusOptimistic MessageStatus = "optimistic"
	// StatusConfirmed marks a server-acknowledged message.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks a message whose send was rejected.
	StatusFailed MessageStatus = "failed"
)

// Attachment is a file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction groups the users that reacted with one emoji.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
}

// Message is a chat message, either confirmed by the server or created locally.
type Message struct {
	ID              string        `json:"id"`
	ClientID        string        `json:"clientId,omitempty"`
	ConversationID  string        `json:"conversationId"`
	SenderID        string        `json:"senderId"`
	Sender          *User         `json:"sender,omitempty"`
	Type            ContentType   `json:"type"`
	Content         string        `json:"content"`
	Attachments     []Attachment  `json:"attachments,omitempty"`
	Entity          *EntityRef    `json:"entity,omitempty"`
	ReplyToID       string        `json:"replyToId,omitempty"`
	ForwardedFromID string        `json:"forwardedFromId,omitempty"`
	Reactions       []Reaction    `json:"reactions,omitempty"`
	Pinned          bool          `json:"pinned"`
	Edited          bool          `json:"edited"`
	Deleted         bool          `json:"deleted"`
	Status          MessageStatus `json:"status,omitempty"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt,omitempty"`
}

// IsLocal reports whether the message has not been confirmed by the server.
func (m *Message) IsLocal() bool {
	return m.Status == StatusOptimistic || m.Status == StatusFailed
}

// Preview returns a short single-line summary suitable for conversation lists.
func (m *Message) Preview() string {
	if m == nil {
		return ""
	}
	if m.Deleted {
		return "Message deleted"
	}
	switch m.Type {
	case ContentFile:
		if len(m.Attachments) == 1 {
			return "📎 " + m.Attachments[0].FileName
		}
		if len(m.Attachments) > 1 {
			return fmt.Sprintf("📎 %d files", len(m.Attachments))
		}
	case ContentEntity:
		if m.Entity != nil && m.Content == "" {
			return m.Entity.Type + " " + m.Entity.ID
		}
	}
	const max = 80
	r := []rune(m.Content)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return m.Content
}
