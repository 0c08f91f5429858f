package chatsync

// ============================================================================
// State
// ============================================================================

// ListCursor is the pagination cursor of the conversation list.
type ListCursor struct {
	HasMore bool   `json:"hasMore"`
	Next    string `json:"next,omitempty"`
}

// PageCursor is the pagination cursor of one conversation's message history.
// It only moves toward older history.
type PageCursor struct {
	HasMore  bool   `json:"hasMore"`
	OldestID string `json:"oldestId,omitempty"`
}

// MessageList is the locally known message history of one conversation,
// oldest first.
type MessageList struct {
	Messages     []Message
	Cursor       PageCursor
	Loaded       bool
	Loading      bool
	LoadingOlder bool
	Err          error
}

// Index returns the position of the message with the given id, or -1.
func (l MessageList) Index(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.Messages {
		if l.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the message with the given id.
func (l MessageList) Get(id string) (Message, bool) {
	if i := l.Index(id); i >= 0 {
		return l.Messages[i], true
	}
	return Message{}, false
}

// SearchState holds the most recent full-text search.
type SearchState struct {
	Query          string
	ConversationID string
	Results        []Message
	Loading        bool
	Err            error
}

// TransportStatus mirrors the realtime connection as seen by the coordinator.
type TransportStatus struct {
	State      RealtimeState
	Attempt    int
	Reconnects int
	Err        error
}

// State is an immutable snapshot of everything the engine knows.
//
// A State is never modified after it has been published; Reduce returns a
// new value that shares every sub-structure it did not change.
type State struct {
	SelfID   string
	ActiveID string

	Conversations        map[string]Conversation
	Order                []string
	ConversationsCursor  ListCursor
	ConversationsLoading bool
	ConversationsErr     error
	TotalUnread          int

	Messages map[string]MessageList

	Typing TypingMap
	Online PresenceSet
	Search SearchState

	Transport TransportStatus
}

// NewState returns the empty state for the given local user.
func NewState(selfID string) *State {
	return &State{
		SelfID:        selfID,
		Conversations: map[string]Conversation{},
		Messages:      map[string]MessageList{},
		Typing:        TypingMap{},
		Online:        PresenceSet{},
		Transport:     TransportStatus{State: StateDisconnected},
	}
}

// OrderedConversations returns the conversations in display order.
func (s *State) OrderedConversations() []Conversation {
	out := make([]Conversation, 0, len(s.Order))
	for _, id := range s.Order {
		if c, ok := s.Conversations[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Conversation returns the conversation with the given id.
func (s *State) Conversation(id string) (Conversation, bool) {
	c, ok := s.Conversations[id]
	return c, ok
}

// MessagesOf returns the message list of a conversation. The zero value is
// returned for conversations whose history was never loaded.
func (s *State) MessagesOf(conversationID string) MessageList {
	return s.Messages[conversationID]
}

// Active returns the active conversation, if one is selected.
func (s *State) Active() (Conversation, bool) {
	if s.ActiveID == "" {
		return Conversation{}, false
	}
	return s.Conversation(s.ActiveID)
}

// sumUnread recomputes the aggregate unread counter.
func sumUnread(conversations map[string]Conversation) int {
	n := 0
	for _, c := range conversations {
		n += c.UnreadCount
	}
	return n
}
