package chatsync

import "time"

// Action is a user intent or an event that the coordinator folds into State.
//
// The set of actions is closed: every implementation lives in this file and
// Reduce handles each of them in a single type switch.
type Action interface {
	action()
	// Kind is a stable name used for logs and metrics.
	Kind() string
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsRequested marks the conversation list as loading.
type ConversationsRequested struct {
	Append bool
}

// ConversationsLoaded carries a page of conversations from the remote store.
// Append is false for a full reload and true for "load more".
type ConversationsLoaded struct {
	Conversations []Conversation
	HasMore       bool
	Next          string
	Append        bool
}

// ConversationsFailed records a failed conversation list fetch.
type ConversationsFailed struct {
	Err error
}

// ConversationUpserted inserts or replaces a single conversation.
// Unknown conversations are inserted at the front of the order list.
type ConversationUpserted struct {
	Conversation   Conversation
	PreserveUnread bool
}

// ConversationRemoved drops a conversation after archive or leave.
type ConversationRemoved struct {
	ConversationID string
}

// ConversationSelected changes the active conversation. An empty id clears it.
type ConversationSelected struct {
	ConversationID string
}

// ConversationRead stamps a read receipt. For the local user it also zeroes
// the unread counter.
type ConversationRead struct {
	ConversationID string
	UserID         string
	At             time.Time
}

// ============================================================================
// Messages
// ============================================================================

// MessagesRequested marks a conversation's message list as loading.
type MessagesRequested struct {
	ConversationID string
	Older          bool
}

// MessagesLoaded carries a chronological page of messages.
type MessagesLoaded struct {
	ConversationID string
	Messages       []Message
	HasMore        bool
	Older          bool
}

// MessagesFailed records a failed message page fetch.
type MessagesFailed struct {
	ConversationID string
	Err            error
}

// MessageQueued inserts an optimistic message created by a send intent.
type MessageQueued struct {
	Message Message
}

// MessageConfirmed replaces an optimistic message with the server's copy.
type MessageConfirmed struct {
	TempID  string
	Message Message
}

// MessageFailed flags an optimistic message as failed.
type MessageFailed struct {
	ConversationID string
	TempID         string
	Err            error
}

// MessageReceived is a realtime push of a new message.
type MessageReceived struct {
	Message Message
}

// MessageUpserted stores a server-confirmed message without optimistic matching.
type MessageUpserted struct {
	Message Message
}

// MessageEdited replaces a message after an edit.
type MessageEdited struct {
	Message Message
}

// MessageDeleted soft-deletes a message.
type MessageDeleted struct {
	ConversationID string
	MessageID      string
}

// ReactionsChanged replaces the reaction list of a message.
type ReactionsChanged struct {
	ConversationID string
	MessageID      string
	Reactions      []Reaction
}

// PinChanged sets the pinned flag of a message.
type PinChanged struct {
	ConversationID string
	MessageID      string
	Pinned         bool
}

// ============================================================================
// Search
// ============================================================================

// SearchRequested starts a full-text search.
type SearchRequested struct {
	Query          string
	ConversationID string
}

// SearchCompleted carries search results for Query.
type SearchCompleted struct {
	Query   string
	Results []Message
}

// SearchFailed records a failed search for Query.
type SearchFailed struct {
	Query string
	Err   error
}

// ============================================================================
// Typing and presence
// ============================================================================

// TypingStarted marks a user as composing in a conversation.
type TypingStarted struct {
	ConversationID string
	UserID         string
	DisplayName    string
}

// TypingStopped clears a user's composing state.
type TypingStopped struct {
	ConversationID string
	UserID         string
}

// PresenceSnapshot replaces the online set.
type PresenceSnapshot struct {
	UserIDs []string
}

// UserOnline adds a user to the online set.
type UserOnline struct {
	UserID string
}

// UserOffline removes a user from the online set.
type UserOffline struct {
	UserID string
}

// ============================================================================
// Transport lifecycle
// ============================================================================

// TransportConnected is emitted when the realtime connection opens.
// Reconnected is true for every connect after the first one.
type TransportConnected struct {
	Reconnected bool
}

// TransportDisconnected is emitted when the realtime connection drops.
type TransportDisconnected struct {
	Reason string
}

// TransportError is emitted when a connection attempt fails.
type TransportError struct {
	Err error
}

// TransportReconnecting is emitted before each reconnect attempt.
type TransportReconnecting struct {
	Attempt int
	Delay   time.Duration
}

// barrier is an internal no-op used by Coordinator.Flush.
type barrier struct {
	done chan struct{}
}

func (ConversationsRequested) action() {}
func (ConversationsLoaded) action()    {}
func (ConversationsFailed) action()    {}
func (ConversationUpserted) action()   {}
func (ConversationRemoved) action()    {}
func (ConversationSelected) action()   {}
func (ConversationRead) action()       {}
func (MessagesRequested) action()      {}
func (MessagesLoaded) action()         {}
func (MessagesFailed) action()         {}
func (MessageQueued) action()          {}
func (MessageConfirmed) action()       {}
func (MessageFailed) action()          {}
func (MessageReceived) action()        {}
func (MessageUpserted) action()        {}
func (MessageEdited) action()          {}
func (MessageDeleted) action()         {}
func (ReactionsChanged) action()       {}
func (PinChanged) action()             {}
func (SearchRequested) action()        {}
func (SearchCompleted) action()        {}
func (SearchFailed) action()           {}
func (TypingStarted) action()          {}
func (TypingStopped) action()          {}
func (PresenceSnapshot) action()       {}
func (UserOnline) action()             {}
func (UserOffline) action()            {}
func (TransportConnected) action()     {}
func (TransportDisconnected) action()  {}
func (TransportError) action()         {}
func (TransportReconnecting) action()  {}
func (barrier) action()                {}

func (ConversationsRequested) Kind() string { return "conversations.requested" }
func (ConversationsLoaded) Kind() string    { return "conversations.loaded" }
func (ConversationsFailed) Kind() string    { return "conversations.failed" }
func (ConversationUpserted) Kind() string   { return "conversation.upserted" }
func (ConversationRemoved) Kind() string    { return "conversation.removed" }
func (ConversationSelected) Kind() string   { return "conversation.selected" }
func (ConversationRead) Kind() string       { return "conversation.read" }
func (MessagesRequested) Kind() string      { return "messages.requested" }
func (MessagesLoaded) Kind() string         { return "messages.loaded" }
func (MessagesFailed) Kind() string         { return "messages.failed" }
func (MessageQueued) Kind() string          { return "message.queued" }
func (MessageConfirmed) Kind() string       { return "message.confirmed" }
func (MessageFailed) Kind() string          { return "message.failed" }
func (MessageReceived) Kind() string        { return "message.received" }
func (MessageUpserted) Kind() string        { return "message.upserted" }
func (MessageEdited) Kind() string          { return "message.edited" }
func (MessageDeleted) Kind() string         { return "message.deleted" }
func (ReactionsChanged) Kind() string       { return "message.reactions" }
func (PinChanged) Kind() string             { return "message.pinned" }
func (SearchRequested) Kind() string        { return "search.requested" }
func (SearchCompleted) Kind() string        { return "search.completed" }
func (SearchFailed) Kind() string           { return "search.failed" }
func (TypingStarted) Kind() string          { return "typing.started" }
func (TypingStopped) Kind() string          { return "typing.stopped" }
func (PresenceSnapshot) Kind() string       { return "presence.snapshot" }
func (UserOnline) Kind() string             { return "presence.online" }
func (UserOffline) Kind() string            { return "presence.offline" }
func (TransportConnected) Kind() string     { return "transport.connected" }
func (TransportDisconnected) Kind() string  { return "transport.disconnected" }
func (TransportError) Kind() string         { return "transport.error" }
func (TransportReconnecting) Kind() string  { return "transport.reconnecting" }
func (barrier) Kind() string                { return "barrier" }
