package chatsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Intents perform one remote call and dispatch the follow-up action. They
// may be called from any goroutine; the remote call never runs on the
// coordinator loop. Errors are logged and returned to the caller, and no
// intent retries on its own.

// ============================================================================
// Conversations
// ============================================================================

// LoadConversations replaces the conversation list with the first page.
func (c *Coordinator) LoadConversations(ctx context.Context) error {
	c.Dispatch(ConversationsRequested{})
	page, err := c.remote.ListConversations(ctx, &PageOptions{Limit: c.config.ConversationPageSize})
	if err != nil {
		c.Dispatch(ConversationsFailed{Err: err})
		c.logger.Warn("load conversations failed", "err", err)
		return fmt.Errorf("load conversations: %w", err)
	}
	c.Dispatch(ConversationsLoaded{
		Conversations: page.Conversations,
		HasMore:       page.HasMore,
		Next:          page.NextCursor,
	})
	return nil
}

// LoadMoreConversations appends the next page of conversations. It does
// nothing when the list is exhausted or a load is already running.
func (c *Coordinator) LoadMoreConversations(ctx context.Context) error {
	st := c.State()
	if !st.ConversationsCursor.HasMore || st.ConversationsLoading {
		return nil
	}
	c.Dispatch(ConversationsRequested{Append: true})
	page, err := c.remote.ListConversations(ctx, &PageOptions{
		Limit:  c.config.ConversationPageSize,
		Cursor: st.ConversationsCursor.Next,
	})
	if err != nil {
		c.Dispatch(ConversationsFailed{Err: err})
		c.logger.Warn("load more conversations failed", "err", err)
		return fmt.Errorf("load more conversations: %w", err)
	}
	c.Dispatch(ConversationsLoaded{
		Conversations: page.Conversations,
		HasMore:       page.HasMore,
		Next:          page.NextCursor,
		Append:        true,
	})
	return nil
}

// SelectConversation makes conversationID the active conversation: the old
// room is left, the new one joined, its history loaded on first open and
// its unread messages marked read. An empty id clears the selection.
func (c *Coordinator) SelectConversation(ctx context.Context, conversationID string) error {
	st := c.State()
	prev := st.ActiveID
	if prev == conversationID {
		return nil
	}

	conv, known := st.Conversation(conversationID)
	if conversationID != "" && !known {
		fetched, err := c.remote.GetConversation(ctx, conversationID)
		if err != nil {
			c.logger.Warn("select conversation failed", "conversation", conversationID, "err", err)
			return fmt.Errorf("select conversation: %w", err)
		}
		conv = *fetched
		c.Dispatch(ConversationUpserted{Conversation: conv})
	}

	c.stopTyping(prev)
	c.leaveRoom(ctx, prev)
	c.Dispatch(ConversationSelected{ConversationID: conversationID})
	if conversationID == "" {
		return nil
	}
	c.joinRoom(ctx, conversationID)

	if !st.MessagesOf(conversationID).Loaded {
		if err := c.LoadMessages(ctx, conversationID); err != nil {
			return err
		}
	}
	if conv.UnreadCount > 0 {
		return c.markRead(ctx, conversationID)
	}
	return nil
}

// MarkRead zeroes a conversation's unread counter immediately and then tells
// the server. A failed remote call is reported but not rolled back.
func (c *Coordinator) MarkRead(ctx context.Context, conversationID string) error {
	if _, ok := c.State().Conversation(conversationID); !ok {
		return fmt.Errorf("mark read %s: %w", conversationID, ErrUnknownConversation)
	}
	return c.markRead(ctx, conversationID)
}

// markRead skips the lookup; the caller may have dispatched the upsert that
// makes the conversation known without it being applied yet.
func (c *Coordinator) markRead(ctx context.Context, conversationID string) error {
	c.Dispatch(ConversationRead{ConversationID: conversationID, UserID: c.selfID, At: c.config.Now()})

	if c.transport != nil {
		if err := c.transport.MarkRead(ctx, conversationID); err != nil {
			c.logger.Debug("read receipt not sent", "conversation", conversationID, "err", err)
		}
	}
	if err := c.remote.MarkRead(ctx, conversationID); err != nil {
		c.logger.Warn("mark read failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CreateConversation creates a conversation and inserts it at the top.
func (c *Coordinator) CreateConversation(ctx context.Context, params *CreateConversationParams) (*Conversation, error) {
	if err := validateStruct(params); err != nil {
		return nil, err
	}
	conv, err := c.remote.CreateConversation(ctx, params)
	if err != nil {
		c.logger.Warn("create conversation failed", "err", err)
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	c.Dispatch(ConversationUpserted{Conversation: *conv})
	return conv, nil
}

// UpdateConversation changes a conversation's title or metadata.
func (c *Coordinator) UpdateConversation(ctx context.Context, conversationID string, params *UpdateConversationParams) (*Conversation, error) {
	if err := validateStruct(params); err != nil {
		return nil, err
	}
	conv, err := c.remote.UpdateConversation(ctx, conversationID, params)
	if err != nil {
		c.logger.Warn("update conversation failed", "conversation", conversationID, "err", err)
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	c.Dispatch(ConversationUpserted{Conversation: *conv, PreserveUnread: true})
	return conv, nil
}

// ArchiveConversation archives a conversation and drops it from the list.
func (c *Coordinator) ArchiveConversation(ctx context.Context, conversationID string) error {
	if err := c.remote.ArchiveConversation(ctx, conversationID); err != nil {
		c.logger.Warn("archive conversation failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("archive conversation: %w", err)
	}
	c.dropConversation(ctx, conversationID)
	return nil
}

// LeaveConversation leaves a conversation and drops it from the list.
func (c *Coordinator) LeaveConversation(ctx context.Context, conversationID string) error {
	if err := c.remote.LeaveConversation(ctx, conversationID); err != nil {
		c.logger.Warn("leave conversation failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("leave conversation: %w", err)
	}
	c.dropConversation(ctx, conversationID)
	return nil
}

func (c *Coordinator) dropConversation(ctx context.Context, conversationID string) {
	c.stopTyping(conversationID)
	c.leaveRoom(ctx, conversationID)
	c.Dispatch(ConversationRemoved{ConversationID: conversationID})
}

// AddParticipant adds a user to a conversation.
func (c *Coordinator) AddParticipant(ctx context.Context, conversationID string, params *AddParticipantParams) error {
	if err := validateStruct(params); err != nil {
		return err
	}
	conv, err := c.remote.AddParticipant(ctx, conversationID, params)
	if err != nil {
		c.logger.Warn("add participant failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("add participant: %w", err)
	}
	c.Dispatch(ConversationUpserted{Conversation: *conv, PreserveUnread: true})
	return nil
}

// RemoveParticipant removes a user from a conversation.
func (c *Coordinator) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	if err := validateVar("userID", userID, "required"); err != nil {
		return err
	}
	conv, err := c.remote.RemoveParticipant(ctx, conversationID, userID)
	if err != nil {
		c.logger.Warn("remove participant failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("remove participant: %w", err)
	}
	c.Dispatch(ConversationUpserted{Conversation: *conv, PreserveUnread: true})
	return nil
}

// ============================================================================
// Messages
// ============================================================================

// LoadMessages loads the most recent page of a conversation's history.
func (c *Coordinator) LoadMessages(ctx context.Context, conversationID string) error {
	if err := validateVar("conversationID", conversationID, "required"); err != nil {
		return err
	}
	c.Dispatch(MessagesRequested{ConversationID: conversationID})
	page, err := c.remote.ListMessages(ctx, conversationID, &MessagePageOptions{Limit: c.config.MessagePageSize})
	if err != nil {
		c.Dispatch(MessagesFailed{ConversationID: conversationID, Err: err})
		c.logger.Warn("load messages failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("load messages: %w", err)
	}
	c.Dispatch(MessagesLoaded{ConversationID: conversationID, Messages: page.Messages, HasMore: page.HasMore})
	return nil
}

// LoadOlderMessages prepends the page before the oldest loaded message.
func (c *Coordinator) LoadOlderMessages(ctx context.Context, conversationID string) error {
	l := c.State().MessagesOf(conversationID)
	if !l.Cursor.HasMore || l.LoadingOlder {
		return nil
	}
	c.Dispatch(MessagesRequested{ConversationID: conversationID, Older: true})
	page, err := c.remote.ListMessages(ctx, conversationID, &MessagePageOptions{
		Limit:  c.config.MessagePageSize,
		Before: l.Cursor.OldestID,
	})
	if err != nil {
		c.Dispatch(MessagesFailed{ConversationID: conversationID, Err: err})
		c.logger.Warn("load older messages failed", "conversation", conversationID, "err", err)
		return fmt.Errorf("load older messages: %w", err)
	}
	c.Dispatch(MessagesLoaded{ConversationID: conversationID, Messages: page.Messages, HasMore: page.HasMore, Older: true})
	return nil
}

// SendMessage inserts an optimistic message and sends it. The temporary id
// of the local entry is returned even when the send fails, in which case the
// entry stays in the list flagged as failed.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID string, params *SendMessageParams) (string, error) {
	if err := validateStruct(params); err != nil {
		return "", err
	}
	if _, ok := c.State().Conversation(conversationID); !ok {
		return "", fmt.Errorf("send message to %s: %w", conversationID, ErrUnknownConversation)
	}

	tempID := "tmp-" + uuid.NewString()
	req := *params
	req.ClientID = tempID

	c.Dispatch(MessageQueued{Message: Message{
		ID:             tempID,
		ClientID:       tempID,
		ConversationID: conversationID,
		SenderID:       c.selfID,
		Type:           req.Type,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Entity:         req.Entity,
		ReplyToID:      req.ReplyToID,
		Status:         StatusOptimistic,
		CreatedAt:      c.config.Now(),
	}})
	c.stopTyping(conversationID)

	msg, err := c.remote.SendMessage(ctx, conversationID, &req)
	if err != nil {
		c.Dispatch(MessageFailed{ConversationID: conversationID, TempID: tempID, Err: err})
		c.logger.Warn("send message failed", "conversation", conversationID, "temp_id", tempID, "err", err)
		return tempID, fmt.Errorf("send message: %w", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	c.Dispatch(MessageConfirmed{TempID: tempID, Message: *msg})
	return tempID, nil
}

// EditMessage replaces the content of a confirmed message.
func (c *Coordinator) EditMessage(ctx context.Context, conversationID, messageID, content string) error {
	if err := validateVar("content", content, "required,max=10000"); err != nil {
		return err
	}
	if err := c.requireMessage(conversationID, messageID); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	msg, err := c.remote.EditMessage(ctx, conversationID, messageID, content)
	if err != nil {
		c.logger.Warn("edit message failed", "message", messageID, "err", err)
		return fmt.Errorf("edit message: %w", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	c.Dispatch(MessageEdited{Message: *msg})
	return nil
}

// DeleteMessage soft-deletes a message.
func (c *Coordinator) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := c.requireMessage(conversationID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := c.remote.DeleteMessage(ctx, conversationID, messageID); err != nil {
		c.logger.Warn("delete message failed", "message", messageID, "err", err)
		return fmt.Errorf("delete message: %w", err)
	}
	c.Dispatch(MessageDeleted{ConversationID: conversationID, MessageID: messageID})
	return nil
}

// ToggleReaction adds or removes the local user's reaction.
func (c *Coordinator) ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	if err := validateVar("emoji", emoji, "required,max=32"); err != nil {
		return err
	}
	if err := c.requireMessage(conversationID, messageID); err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	reactions, err := c.remote.ToggleReaction(ctx, conversationID, messageID, emoji)
	if err != nil {
		c.logger.Warn("toggle reaction failed", "message", messageID, "err", err)
		return fmt.Errorf("toggle reaction: %w", err)
	}
	c.Dispatch(ReactionsChanged{ConversationID: conversationID, MessageID: messageID, Reactions: reactions})
	return nil
}

// TogglePin pins or unpins a message.
func (c *Coordinator) TogglePin(ctx context.Context, conversationID, messageID string) error {
	if err := c.requireMessage(conversationID, messageID); err != nil {
		return fmt.Errorf("toggle pin: %w", err)
	}
	pinned, err := c.remote.TogglePin(ctx, conversationID, messageID)
	if err != nil {
		c.logger.Warn("toggle pin failed", "message", messageID, "err", err)
		return fmt.Errorf("toggle pin: %w", err)
	}
	c.Dispatch(PinChanged{ConversationID: conversationID, MessageID: messageID, Pinned: pinned})
	return nil
}

// ForwardMessage copies a message into another conversation.
func (c *Coordinator) ForwardMessage(ctx context.Context, messageID, targetConversationID string) (*Message, error) {
	if err := validateVar("targetConversationID", targetConversationID, "required"); err != nil {
		return nil, err
	}
	msg, err := c.remote.ForwardMessage(ctx, messageID, targetConversationID)
	if err != nil {
		c.logger.Warn("forward message failed", "message", messageID, "target", targetConversationID, "err", err)
		return nil, fmt.Errorf("forward message: %w", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = targetConversationID
	}
	c.Dispatch(MessageUpserted{Message: *msg})
	return msg, nil
}

// SearchMessages runs a full-text search. Results are also published in
// State.Search unless a newer search has started in the meantime.
func (c *Coordinator) SearchMessages(ctx context.Context, params *SearchParams) ([]Message, error) {
	if err := validateStruct(params); err != nil {
		return nil, err
	}
	c.Dispatch(SearchRequested{Query: params.Query, ConversationID: params.ConversationID})
	results, err := c.remote.SearchMessages(ctx, params)
	if err != nil {
		c.Dispatch(SearchFailed{Query: params.Query, Err: err})
		c.logger.Warn("search failed", "query", params.Query, "err", err)
		return nil, fmt.Errorf("search messages: %w", err)
	}
	c.Dispatch(SearchCompleted{Query: params.Query, Results: results})
	return results, nil
}

func (c *Coordinator) requireMessage(conversationID, messageID string) error {
	m, ok := c.State().MessagesOf(conversationID).Get(messageID)
	if !ok {
		return fmt.Errorf("%s/%s: %w", conversationID, messageID, ErrUnknownMessage)
	}
	if m.IsLocal() {
		return fmt.Errorf("%s is not confirmed yet: %w", messageID, ErrUnknownMessage)
	}
	return nil
}

// ============================================================================
// Presence
// ============================================================================

// LoadPresence replaces the online set with the server's snapshot.
func (c *Coordinator) LoadPresence(ctx context.Context) error {
	ids, err := c.remote.OnlineUsers(ctx)
	if err != nil {
		c.logger.Warn("load presence failed", "err", err)
		return fmt.Errorf("load presence: %w", err)
	}
	c.Dispatch(PresenceSnapshot{UserIDs: ids})
	return nil
}
