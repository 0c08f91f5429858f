package chatsync

import "context"

// ============================================================================
// Remote store
// ============================================================================

// RemoteStore is the server-side collaborator holding the canonical chat data.
// *Client implements it over HTTP; tests use in-memory fakes.
type RemoteStore interface {
	ListConversations(ctx context.Context, opts *PageOptions) (*ConversationPage, error)
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	CreateConversation(ctx context.Context, params *CreateConversationParams) (*Conversation, error)
	UpdateConversation(ctx context.Context, conversationID string, params *UpdateConversationParams) (*Conversation, error)
	ArchiveConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	AddParticipant(ctx context.Context, conversationID string, params *AddParticipantParams) (*Conversation, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) (*Conversation, error)

	ListMessages(ctx context.Context, conversationID string, opts *MessagePageOptions) (*MessagePage, error)
	SendMessage(ctx context.Context, conversationID string, params *SendMessageParams) (*Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) ([]Reaction, error)
	TogglePin(ctx context.Context, conversationID, messageID string) (bool, error)
	ForwardMessage(ctx context.Context, messageID, targetConversationID string) (*Message, error)
	SearchMessages(ctx context.Context, params *SearchParams) ([]Message, error)

	MarkRead(ctx context.Context, conversationID string) error
	OnlineUsers(ctx context.Context) ([]string, error)
}

// PageOptions controls conversation list pagination.
type PageOptions struct {
	Limit  int    `validate:"gte=0,lte=100"`
	Cursor string
}

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"hasMore"`
	NextCursor    string         `json:"nextCursor,omitempty"`
}

// MessagePageOptions controls message history pagination.
type MessagePageOptions struct {
	Limit  int    `validate:"gte=0,lte=100"`
	Before string
}

// MessagePage is one chronological page of message history.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// CreateConversationParams describes a new conversation.
type CreateConversationParams struct {
	Kind           ConversationKind `json:"kind" validate:"required,oneof=direct group entity"`
	Title          string           `json:"title,omitempty" validate:"max=200"`
	ParticipantIDs []string         `json:"participantIds" validate:"required,min=1,dive,required"`
	Entity         *EntityRef       `json:"entity,omitempty" validate:"required_if=Kind entity"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

// UpdateConversationParams changes mutable conversation fields. Nil fields
// are left untouched.
type UpdateConversationParams struct {
	Title    *string        `json:"title,omitempty" validate:"omitempty,max=200"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AddParticipantParams adds a user to a conversation.
type AddParticipantParams struct {
	UserID string          `json:"userId" validate:"required"`
	Role   ParticipantRole `json:"role,omitempty" validate:"omitempty,oneof=owner admin member"`
}

// SendMessageParams is the payload of a new message.
type SendMessageParams struct {
	ClientID    string       `json:"clientId,omitempty"`
	Type        ContentType  `json:"type" validate:"required,oneof=text file entity system"`
	Content     string       `json:"content" validate:"required_without_all=Attachments Entity,max=10000"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"dive"`
	Entity      *EntityRef   `json:"entity,omitempty"`
	ReplyToID   string       `json:"replyToId,omitempty"`
}

// SearchParams configures a full-text message search.
type SearchParams struct {
	Query          string `json:"q" validate:"required,min=2,max=200"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit,omitempty" validate:"gte=0,lte=100"`
}
