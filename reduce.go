package chatsync

import "errors"

// Reduce applies one action to s and returns the resulting state.
//
// Reduce is pure: s is never modified, and the returned state shares every
// map and slice the action did not touch. Actions that reference unknown
// conversations or messages leave the state unchanged.
func Reduce(s *State, a Action) *State {
	switch a := a.(type) {
	// Conversations
	case ConversationsRequested:
		ns := s.clone()
		ns.ConversationsLoading = true
		ns.ConversationsErr = nil
		return ns
	case ConversationsLoaded:
		return reduceConversationsLoaded(s, a)
	case ConversationsFailed:
		ns := s.clone()
		ns.ConversationsLoading = false
		ns.ConversationsErr = a.Err
		return ns
	case ConversationUpserted:
		return reduceConversationUpserted(s, a)
	case ConversationRemoved:
		return reduceConversationRemoved(s, a)
	case ConversationSelected:
		if a.ConversationID != "" {
			if _, ok := s.Conversations[a.ConversationID]; !ok {
				return s
			}
		}
		ns := s.clone()
		ns.ActiveID = a.ConversationID
		return ns
	case ConversationRead:
		return reduceConversationRead(s, a)

	// Messages
	case MessagesRequested:
		ns := s.clone()
		l := s.Messages[a.ConversationID]
		if a.Older {
			l.LoadingOlder = true
		} else {
			l.Loading = true
		}
		l.Err = nil
		ns.setList(a.ConversationID, l)
		return ns
	case MessagesLoaded:
		return reduceMessagesLoaded(s, a)
	case MessagesFailed:
		ns := s.clone()
		l := s.Messages[a.ConversationID]
		l.Loading = false
		l.LoadingOlder = false
		l.Err = a.Err
		ns.setList(a.ConversationID, l)
		return ns
	case MessageQueued:
		m := a.Message
		m.Status = StatusOptimistic
		return insertMessage(s, m, false)
	case MessageConfirmed:
		return reduceMessageConfirmed(s, a)
	case MessageFailed:
		return patchMessage(s, a.ConversationID, a.TempID, func(m *Message) {
			m.Status = StatusFailed
			if a.Err != nil {
				m.Error = a.Err.Error()
			}
		})
	case MessageReceived:
		return reduceMessageReceived(s, a)
	case MessageUpserted:
		m := confirmed(a.Message, "")
		l := s.Messages[m.ConversationID]
		if i := l.Index(m.ID); i >= 0 {
			return patchMessage(s, m.ConversationID, m.ID, func(cur *Message) {
				*cur = confirmed(m, cur.ClientID)
			})
		}
		return insertMessage(s, m, false)
	case MessageEdited:
		return patchMessage(s, a.Message.ConversationID, a.Message.ID, func(cur *Message) {
			m := confirmed(a.Message, cur.ClientID)
			m.Edited = true
			*cur = m
		})
	case MessageDeleted:
		return patchMessage(s, a.ConversationID, a.MessageID, func(m *Message) {
			m.Deleted = true
		})
	case ReactionsChanged:
		return patchMessage(s, a.ConversationID, a.MessageID, func(m *Message) {
			m.Reactions = a.Reactions
		})
	case PinChanged:
		return patchMessage(s, a.ConversationID, a.MessageID, func(m *Message) {
			m.Pinned = a.Pinned
		})

	// Search
	case SearchRequested:
		ns := s.clone()
		ns.Search = SearchState{Query: a.Query, ConversationID: a.ConversationID, Loading: true}
		return ns
	case SearchCompleted:
		if a.Query != s.Search.Query {
			return s
		}
		ns := s.clone()
		ns.Search.Results = a.Results
		ns.Search.Loading = false
		ns.Search.Err = nil
		return ns
	case SearchFailed:
		if a.Query != s.Search.Query {
			return s
		}
		ns := s.clone()
		ns.Search.Loading = false
		ns.Search.Err = a.Err
		return ns

	// Typing and presence
	case TypingStarted:
		if a.UserID == s.SelfID {
			return s
		}
		ns := s.clone()
		ns.Typing = s.Typing.Start(a.ConversationID, a.UserID, a.DisplayName)
		return ns
	case TypingStopped:
		if a.UserID == s.SelfID {
			return s
		}
		ns := s.clone()
		ns.Typing = s.Typing.Stop(a.ConversationID, a.UserID)
		return ns
	case PresenceSnapshot:
		ns := s.clone()
		ns.Online = s.Online.Replace(a.UserIDs)
		return ns
	case UserOnline:
		ns := s.clone()
		ns.Online = s.Online.Add(a.UserID)
		return ns
	case UserOffline:
		ns := s.clone()
		ns.Online = s.Online.Remove(a.UserID)
		return ns

	// Transport
	case TransportConnected:
		ns := s.clone()
		ns.Transport.State = StateConnected
		ns.Transport.Attempt = 0
		ns.Transport.Err = nil
		if a.Reconnected {
			ns.Transport.Reconnects++
		}
		return ns
	case TransportDisconnected:
		ns := s.clone()
		ns.Transport.State = StateDisconnected
		// Typing signals cannot be trusted across a gap in the stream.
		if len(s.Typing) > 0 {
			ns.Typing = TypingMap{}
		}
		return ns
	case TransportReconnecting:
		ns := s.clone()
		ns.Transport.State = StateReconnecting
		ns.Transport.Attempt = a.Attempt
		return ns
	case TransportError:
		ns := s.clone()
		ns.Transport.Err = a.Err
		if errors.Is(a.Err, ErrReconnectExhausted) {
			ns.Transport.State = StateDisconnected
			ns.Transport.Attempt = 0
		}
		return ns
	}
	return s
}

// ============================================================================
// Conversations
// ============================================================================

func reduceConversationsLoaded(s *State, a ConversationsLoaded) *State {
	ns := s.clone()
	ns.ConversationsLoading = false
	ns.ConversationsErr = nil
	ns.ConversationsCursor = ListCursor{HasMore: a.HasMore, Next: a.Next}

	if !a.Append {
		convs := make(map[string]Conversation, len(a.Conversations))
		order := make([]string, 0, len(a.Conversations))
		for _, c := range a.Conversations {
			if _, dup := convs[c.ID]; dup {
				continue
			}
			convs[c.ID] = c
			order = append(order, c.ID)
		}
		ns.Conversations = convs
		ns.Order = order
		ns.TotalUnread = sumUnread(convs)
		if _, ok := convs[s.ActiveID]; !ok {
			ns.ActiveID = ""
		}
		return ns
	}

	convs := copyConversations(s.Conversations)
	ids := make([]string, 0, len(a.Conversations))
	for _, c := range a.Conversations {
		// Locally known records are at least as fresh as a later page.
		if _, ok := convs[c.ID]; ok {
			continue
		}
		convs[c.ID] = c
		ids = append(ids, c.ID)
	}
	ns.Conversations = convs
	ns.Order = appendMissing(s.Order, ids)
	ns.TotalUnread = sumUnread(convs)
	return ns
}

func reduceConversationUpserted(s *State, a ConversationUpserted) *State {
	c := a.Conversation
	if c.ID == "" {
		return s
	}
	ns := s.clone()
	old, known := s.Conversations[c.ID]
	if known {
		if a.PreserveUnread {
			c.UnreadCount = old.UnreadCount
		}
		if c.LastMessage == nil {
			c.LastMessage = old.LastMessage
		}
	} else {
		ns.Order = moveToFront(s.Order, c.ID)
	}
	ns.setConversation(c)
	return ns
}

func reduceConversationRemoved(s *State, a ConversationRemoved) *State {
	if _, ok := s.Conversations[a.ConversationID]; !ok {
		return s
	}
	ns := s.clone()
	convs := copyConversations(s.Conversations)
	delete(convs, a.ConversationID)
	ns.Conversations = convs
	ns.Order = removeID(s.Order, a.ConversationID)
	ns.TotalUnread = sumUnread(convs)
	if _, ok := s.Messages[a.ConversationID]; ok {
		lists := copyMessageLists(s.Messages)
		delete(lists, a.ConversationID)
		ns.Messages = lists
	}
	if _, ok := s.Typing[a.ConversationID]; ok {
		ns.Typing = s.Typing.copyWithout(a.ConversationID)
	}
	if s.ActiveID == a.ConversationID {
		ns.ActiveID = ""
	}
	return ns
}

func reduceConversationRead(s *State, a ConversationRead) *State {
	c, ok := s.Conversations[a.ConversationID]
	if !ok {
		return s
	}
	at := a.At
	c.Participants = copyParticipants(c.Participants)
	for i := range c.Participants {
		if c.Participants[i].UserID == a.UserID {
			c.Participants[i].LastReadAt = &at
		}
	}
	if a.UserID == s.SelfID {
		c.UnreadCount = 0
	}
	ns := s.clone()
	ns.setConversation(c)
	return ns
}

// ============================================================================
// Messages
// ============================================================================

func reduceMessagesLoaded(s *State, a MessagesLoaded) *State {
	ns := s.clone()
	l := s.Messages[a.ConversationID]
	l.Err = nil

	if a.Older {
		fresh := dedupeMessages(a.Messages, messageIDs(l.Messages))
		msgs := make([]Message, 0, len(fresh)+len(l.Messages))
		msgs = append(msgs, fresh...)
		l.Messages = append(msgs, l.Messages...)
		l.LoadingOlder = false
		l.Cursor.HasMore = a.HasMore
		if len(fresh) > 0 {
			l.Cursor.OldestID = fresh[0].ID
		}
		ns.setList(a.ConversationID, l)
		return ns
	}

	page := dedupeMessages(a.Messages, nil)
	served := messageIDs(page)
	for _, m := range page {
		if m.ClientID != "" {
			served[m.ClientID] = struct{}{}
		}
	}
	// Sends still in flight or failed are not known to the server yet.
	for _, m := range l.Messages {
		if !m.IsLocal() {
			continue
		}
		if _, ok := served[m.ID]; ok {
			continue
		}
		page = append(page, m)
	}

	l.Messages = page
	l.Loaded = true
	l.Loading = false
	l.Cursor = PageCursor{HasMore: a.HasMore}
	if len(a.Messages) > 0 {
		l.Cursor.OldestID = a.Messages[0].ID
	}
	ns.setList(a.ConversationID, l)
	return ns
}

func reduceMessageConfirmed(s *State, a MessageConfirmed) *State {
	m := confirmed(a.Message, a.TempID)
	convID := m.ConversationID
	if _, ok := s.Conversations[convID]; !ok {
		return s
	}
	l := s.Messages[convID]
	ti := l.Index(a.TempID)
	si := l.Index(m.ID)

	switch {
	case ti < 0 && si >= 0:
		// A realtime push already reconciled this send.
		return s
	case ti < 0:
		return insertMessage(s, m, false)
	case si >= 0:
		// The server copy arrived first and matched another entry; drop the
		// temporary one so ids stay unique.
		ns := s.clone()
		l.Messages = removeAt(l.Messages, ti)
		ns.setList(convID, l)
		return ns
	}

	ns := s.clone()
	l.Messages = replaceAt(l.Messages, ti, m)
	ns.setList(convID, l)
	if c := s.Conversations[convID]; c.LastMessage != nil && c.LastMessage.ID == a.TempID {
		lm := m
		c.LastMessage = &lm
		ns.setConversation(c)
	}
	return ns
}

func reduceMessageReceived(s *State, a MessageReceived) *State {
	m := a.Message
	convID := m.ConversationID
	if _, ok := s.Conversations[convID]; !ok {
		return s
	}
	l := s.Messages[convID]

	if l.Index(m.ID) >= 0 {
		return patchMessage(s, convID, m.ID, func(cur *Message) {
			*cur = confirmed(m, cur.ClientID)
		})
	}

	if m.SenderID == s.SelfID {
		if i := firstOptimisticFrom(l.Messages, m.SenderID); i >= 0 {
			m = confirmed(m, l.Messages[i].ID)
			ns := s.clone()
			l.Messages = replaceAt(l.Messages, i, m)
			ns.setList(convID, l)
			ns.touchConversation(m, false)
			return ns
		}
	}
	return insertMessage(s, confirmed(m, ""), true)
}

// insertMessage appends m to its conversation and moves the conversation to
// the front. countUnread enables unread accounting for inbound messages.
func insertMessage(s *State, m Message, countUnread bool) *State {
	convID := m.ConversationID
	if _, ok := s.Conversations[convID]; !ok {
		return s
	}
	l := s.Messages[convID]
	if l.Index(m.ID) >= 0 {
		return s
	}
	ns := s.clone()
	l.Messages = appendMessage(l.Messages, m)
	ns.setList(convID, l)
	ns.touchConversation(m, countUnread)
	return ns
}

// patchMessage applies fn to a copy of one message and stores the result.
func patchMessage(s *State, convID, msgID string, fn func(*Message)) *State {
	l, ok := s.Messages[convID]
	if !ok {
		return s
	}
	i := l.Index(msgID)
	if i < 0 {
		return s
	}
	m := l.Messages[i]
	fn(&m)
	ns := s.clone()
	l.Messages = replaceAt(l.Messages, i, m)
	ns.setList(convID, l)
	if c, ok := s.Conversations[convID]; ok && c.LastMessage != nil && c.LastMessage.ID == msgID {
		lm := m
		c.LastMessage = &lm
		ns.setConversation(c)
	}
	return ns
}

// ============================================================================
// Copy-on-write helpers
// ============================================================================

func (s *State) clone() *State {
	ns := *s
	return &ns
}

func (s *State) setList(convID string, l MessageList) {
	lists := copyMessageLists(s.Messages)
	lists[convID] = l
	s.Messages = lists
}

func (s *State) setConversation(c Conversation) {
	convs := copyConversations(s.Conversations)
	convs[c.ID] = c
	s.Conversations = convs
	s.TotalUnread = sumUnread(convs)
}

// touchConversation records m as the latest message of its conversation and
// moves the conversation to the front of the list.
func (s *State) touchConversation(m Message, countUnread bool) {
	c, ok := s.Conversations[m.ConversationID]
	if !ok {
		return
	}
	lm := m
	c.LastMessage = &lm
	if !m.CreatedAt.IsZero() && m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	if countUnread && m.SenderID != s.SelfID && m.ConversationID != s.ActiveID {
		c.UnreadCount++
	}
	s.setConversation(c)
	s.Order = moveToFront(s.Order, c.ID)
}
