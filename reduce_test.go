package chatsync

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

var stateOpts = []cmp.Option{cmpopts.EquateErrors(), cmpopts.EquateEmpty()}

func testConv(id string, unread int) Conversation {
	return Conversation{
		ID:   id,
		Kind: KindGroup,
		Participants: []Participant{
			{UserID: "me", Role: RoleMember, Active: true},
			{UserID: "bob", Role: RoleOwner, Active: true},
		},
		UnreadCount: unread,
		CreatedAt:   t0,
	}
}

func testMsg(convID, id, sender string) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Type:           ContentText,
		Content:        "hello " + id,
		Status:         StatusConfirmed,
		CreatedAt:      t0,
	}
}

// seeded returns a state with conversations a, b, c (in that order) where
// a and c have unread messages and a has two loaded messages.
func seeded() *State {
	s := NewState("me")
	s = Reduce(s, ConversationsLoaded{
		Conversations: []Conversation{testConv("a", 1), testConv("b", 0), testConv("c", 2)},
		HasMore:       true,
		Next:          "cursor-1",
	})
	return Reduce(s, MessagesLoaded{
		ConversationID: "a",
		Messages:       []Message{testMsg("a", "m1", "bob"), testMsg("a", "m2", "me")},
		HasMore:        true,
	})
}

func apply(s *State, actions ...Action) *State {
	for _, a := range actions {
		s = Reduce(s, a)
	}
	return s
}

func checkInvariants(t *testing.T, s *State) {
	t.Helper()
	if len(s.Order) != len(s.Conversations) {
		t.Errorf("order has %d ids, map has %d conversations", len(s.Order), len(s.Conversations))
	}
	seen := map[string]bool{}
	for _, id := range s.Order {
		if seen[id] {
			t.Errorf("conversation %s appears twice in order", id)
		}
		seen[id] = true
		if _, ok := s.Conversations[id]; !ok {
			t.Errorf("conversation %s in order but not in map", id)
		}
	}
	sum := 0
	for _, c := range s.Conversations {
		sum += c.UnreadCount
	}
	if sum != s.TotalUnread {
		t.Errorf("TotalUnread = %d, sum of counters = %d", s.TotalUnread, sum)
	}
	for convID, l := range s.Messages {
		ids := map[string]bool{}
		for _, m := range l.Messages {
			if ids[m.ID] {
				t.Errorf("conversation %s: message id %s is duplicated", convID, m.ID)
			}
			ids[m.ID] = true
		}
	}
}

func messageIDList(l MessageList) []string {
	out := make([]string, 0, len(l.Messages))
	for _, m := range l.Messages {
		out = append(out, m.ID)
	}
	return out
}

func TestReduce_unreadAccounting(t *testing.T) {
	tests := []struct {
		name       string
		active     string
		msg        Message
		wantUnread int
		wantTotal  int
	}{
		{
			name:       "OtherSenderInactiveConversation",
			msg:        testMsg("b", "x1", "bob"),
			wantUnread: 1,
			wantTotal:  4,
		},
		{
			name:       "OwnMessage",
			msg:        testMsg("b", "x1", "me"),
			wantUnread: 0,
			wantTotal:  3,
		},
		{
			name:       "ActiveConversation",
			active:     "b",
			msg:        testMsg("b", "x1", "bob"),
			wantUnread: 0,
			wantTotal:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := apply(seeded(), ConversationSelected{ConversationID: tt.active})
			s = Reduce(s, MessageReceived{Message: tt.msg})
			checkInvariants(t, s)

			if got := s.Conversations["b"].UnreadCount; got != tt.wantUnread {
				t.Errorf("unread = %d, want %d", got, tt.wantUnread)
			}
			if s.TotalUnread != tt.wantTotal {
				t.Errorf("TotalUnread = %d, want %d", s.TotalUnread, tt.wantTotal)
			}
		})
	}

	t.Run("DuplicatePushCountsOnce", func(t *testing.T) {
		push := MessageReceived{Message: testMsg("b", "x1", "bob")}
		s := apply(seeded(), push, push)
		checkInvariants(t, s)
		if got := s.Conversations["b"].UnreadCount; got != 1 {
			t.Errorf("unread = %d, want 1", got)
		}
		if got := len(s.MessagesOf("b").Messages); got != 1 {
			t.Errorf("messages = %d, want 1", got)
		}
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		s := seeded()
		if next := Reduce(s, MessageReceived{Message: testMsg("zzz", "x1", "bob")}); next != s {
			t.Error("push for unknown conversation changed the state")
		}
	})
}

func TestReduce_reorderOnNewMessage(t *testing.T) {
	s := seeded()
	if diff := cmp.Diff([]string{"a", "b", "c"}, s.Order); diff != "" {
		t.Fatalf("seed order (-want +got):\n%s", diff)
	}

	s = Reduce(s, MessageReceived{Message: testMsg("c", "x1", "bob")})

	if diff := cmp.Diff([]string{"c", "a", "b"}, s.Order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	c := s.Conversations["c"]
	if c.LastMessage == nil || c.LastMessage.ID != "x1" {
		t.Errorf("LastMessage = %+v, want x1", c.LastMessage)
	}
	checkInvariants(t, s)
}

func TestReduce_optimisticSend(t *testing.T) {
	queued := Message{ID: "tmp-1", ClientID: "tmp-1", ConversationID: "a", SenderID: "me", Type: ContentText, Content: "hi", CreatedAt: t0}

	t.Run("ConfirmedInPlace", func(t *testing.T) {
		s := apply(seeded(),
			MessageQueued{Message: queued},
			MessageReceived{Message: testMsg("a", "m3", "bob")},
		)
		s = Reduce(s, MessageConfirmed{TempID: "tmp-1", Message: testMsg("a", "s1", "me")})
		checkInvariants(t, s)

		if diff := cmp.Diff([]string{"m1", "m2", "s1", "m3"}, messageIDList(s.MessagesOf("a"))); diff != "" {
			t.Errorf("ids (-want +got):\n%s", diff)
		}
		m, _ := s.MessagesOf("a").Get("s1")
		if m.Status != StatusConfirmed || m.ClientID != "tmp-1" {
			t.Errorf("confirmed message = %+v", m)
		}
	})

	t.Run("RealtimePushWinsOverResponse", func(t *testing.T) {
		s := apply(seeded(), MessageQueued{Message: queued})
		if got := s.MessagesOf("a").Index("tmp-1"); got != 2 {
			t.Fatalf("tmp-1 at %d, want 2", got)
		}
		unread := s.TotalUnread

		s = Reduce(s, MessageReceived{Message: testMsg("a", "s1", "me")})
		checkInvariants(t, s)
		if diff := cmp.Diff([]string{"m1", "m2", "s1"}, messageIDList(s.MessagesOf("a"))); diff != "" {
			t.Fatalf("ids after push (-want +got):\n%s", diff)
		}
		if s.TotalUnread != unread {
			t.Errorf("TotalUnread = %d, want %d", s.TotalUnread, unread)
		}

		late := Reduce(s, MessageConfirmed{TempID: "tmp-1", Message: testMsg("a", "s1", "me")})
		if late != s {
			t.Error("late response changed the state")
		}
	})

	t.Run("ResponseWithoutLocalEntryAppends", func(t *testing.T) {
		s := Reduce(seeded(), MessageConfirmed{TempID: "tmp-9", Message: testMsg("a", "s9", "me")})
		if diff := cmp.Diff([]string{"m1", "m2", "s9"}, messageIDList(s.MessagesOf("a"))); diff != "" {
			t.Errorf("ids (-want +got):\n%s", diff)
		}
	})

	t.Run("OldestOptimisticMatchedFirst", func(t *testing.T) {
		second := queued
		second.ID, second.ClientID = "tmp-2", "tmp-2"
		s := apply(seeded(),
			MessageQueued{Message: queued},
			MessageQueued{Message: second},
			MessageReceived{Message: testMsg("a", "s1", "me")},
		)
		if diff := cmp.Diff([]string{"m1", "m2", "s1", "tmp-2"}, messageIDList(s.MessagesOf("a"))); diff != "" {
			t.Errorf("ids (-want +got):\n%s", diff)
		}
	})

	t.Run("QueuedMovesConversationToFront", func(t *testing.T) {
		msg := queued
		msg.ConversationID = "c"
		s := Reduce(seeded(), MessageQueued{Message: msg})
		if s.Order[0] != "c" {
			t.Errorf("order = %v, want c first", s.Order)
		}
		if got := s.Conversations["c"].UnreadCount; got != 2 {
			t.Errorf("unread = %d, want 2", got)
		}
	})
}

func TestReduce_failedSend(t *testing.T) {
	queued := Message{ID: "tmp-1", ConversationID: "a", SenderID: "me", Type: ContentText, Content: "hi"}
	s := apply(seeded(), MessageQueued{Message: queued})
	before := s.TotalUnread

	s = Reduce(s, MessageFailed{ConversationID: "a", TempID: "tmp-1", Err: errors.New("boom")})
	checkInvariants(t, s)

	l := s.MessagesOf("a")
	if len(l.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(l.Messages))
	}
	m := l.Messages[2]
	if m.ID != "tmp-1" || m.Status != StatusFailed || m.Error != "boom" {
		t.Errorf("failed entry = %+v", m)
	}
	if s.TotalUnread != before {
		t.Errorf("TotalUnread = %d, want %d", s.TotalUnread, before)
	}
}

func TestReduce_patchIdempotence(t *testing.T) {
	edited := testMsg("a", "m1", "bob")
	edited.Content = "edited"

	tests := []struct {
		name  string
		patch Action
		check func(t *testing.T, m Message)
	}{
		{
			name:  "Edit",
			patch: MessageEdited{Message: edited},
			check: func(t *testing.T, m Message) {
				if m.Content != "edited" || !m.Edited {
					t.Errorf("message = %+v", m)
				}
			},
		},
		{
			name:  "Delete",
			patch: MessageDeleted{ConversationID: "a", MessageID: "m1"},
			check: func(t *testing.T, m Message) {
				if !m.Deleted {
					t.Error("message not deleted")
				}
			},
		},
		{
			name:  "Reactions",
			patch: ReactionsChanged{ConversationID: "a", MessageID: "m1", Reactions: []Reaction{{Emoji: "👍", UserIDs: []string{"me"}}}},
			check: func(t *testing.T, m Message) {
				if len(m.Reactions) != 1 || m.Reactions[0].Emoji != "👍" {
					t.Errorf("reactions = %+v", m.Reactions)
				}
			},
		},
		{
			name:  "Pin",
			patch: PinChanged{ConversationID: "a", MessageID: "m1", Pinned: true},
			check: func(t *testing.T, m Message) {
				if !m.Pinned {
					t.Error("message not pinned")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := Reduce(seeded(), tt.patch)
			twice := Reduce(once, tt.patch)
			if diff := cmp.Diff(once, twice, stateOpts...); diff != "" {
				t.Errorf("second application changed state (-once +twice):\n%s", diff)
			}
			m, ok := twice.MessagesOf("a").Get("m1")
			if !ok {
				t.Fatal("m1 missing")
			}
			if i := twice.MessagesOf("a").Index("m1"); i != 0 {
				t.Errorf("m1 moved to %d", i)
			}
			tt.check(t, m)
		})
	}

	t.Run("UnknownMessage", func(t *testing.T) {
		s := seeded()
		if next := Reduce(s, MessageDeleted{ConversationID: "a", MessageID: "nope"}); next != s {
			t.Error("patch for unknown message changed the state")
		}
	})
}

func TestReduce_pagination(t *testing.T) {
	page := func(from, to int) []Message {
		var out []Message
		for i := from; i < to; i++ {
			out = append(out, testMsg("b", fmt.Sprintf("m%03d", i), "bob"))
		}
		return out
	}

	t.Run("OlderPagePrepends", func(t *testing.T) {
		s := apply(seeded(), MessagesLoaded{ConversationID: "b", Messages: page(50, 100), HasMore: true})
		if c := s.MessagesOf("b").Cursor; !c.HasMore || c.OldestID != "m050" {
			t.Fatalf("cursor = %+v", c)
		}

		s = apply(s,
			MessagesRequested{ConversationID: "b", Older: true},
			MessagesLoaded{ConversationID: "b", Messages: page(0, 50), HasMore: false, Older: true},
		)
		checkInvariants(t, s)

		l := s.MessagesOf("b")
		if len(l.Messages) != 100 {
			t.Fatalf("messages = %d, want 100", len(l.Messages))
		}
		if l.Messages[0].ID != "m000" || l.Messages[99].ID != "m099" {
			t.Errorf("first/last = %s/%s", l.Messages[0].ID, l.Messages[99].ID)
		}
		want := PageCursor{HasMore: false, OldestID: "m000"}
		if diff := cmp.Diff(want, l.Cursor); diff != "" {
			t.Errorf("cursor (-want +got):\n%s", diff)
		}
		if l.LoadingOlder {
			t.Error("LoadingOlder still set")
		}
	})

	t.Run("OverlappingPageIsDeduplicated", func(t *testing.T) {
		s := apply(seeded(),
			MessagesLoaded{ConversationID: "b", Messages: page(50, 100), HasMore: true},
			MessagesLoaded{ConversationID: "b", Messages: page(10, 60), HasMore: true, Older: true},
		)
		checkInvariants(t, s)
		if got := len(s.MessagesOf("b").Messages); got != 90 {
			t.Errorf("messages = %d, want 90", got)
		}
	})

	t.Run("ReloadKeepsLocalEntries", func(t *testing.T) {
		s := apply(seeded(),
			MessageQueued{Message: Message{ID: "tmp-1", ConversationID: "a", SenderID: "me", Content: "x"}},
			MessageQueued{Message: Message{ID: "tmp-2", ConversationID: "a", SenderID: "me", Content: "y"}},
			MessageFailed{ConversationID: "a", TempID: "tmp-2", Err: errors.New("nope")},
		)
		served := testMsg("a", "s1", "me")
		served.ClientID = "tmp-1"
		s = Reduce(s, MessagesLoaded{
			ConversationID: "a",
			Messages:       []Message{testMsg("a", "m1", "bob"), testMsg("a", "m2", "me"), served},
		})
		checkInvariants(t, s)
		if diff := cmp.Diff([]string{"m1", "m2", "s1", "tmp-2"}, messageIDList(s.MessagesOf("a"))); diff != "" {
			t.Errorf("ids (-want +got):\n%s", diff)
		}
	})

	t.Run("FailureClearsLoading", func(t *testing.T) {
		s := apply(seeded(),
			MessagesRequested{ConversationID: "a", Older: true},
			MessagesFailed{ConversationID: "a", Err: errors.New("offline")},
		)
		l := s.MessagesOf("a")
		if l.Loading || l.LoadingOlder || l.Err == nil {
			t.Errorf("list = %+v", l)
		}
		if len(l.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(l.Messages))
		}
	})
}

func TestReduce_conversations(t *testing.T) {
	t.Run("LoadMoreAppendsNewIDs", func(t *testing.T) {
		s := apply(seeded(), ConversationsLoaded{
			Conversations: []Conversation{testConv("c", 9), testConv("d", 1)},
			Append:        true,
		})
		checkInvariants(t, s)
		if diff := cmp.Diff([]string{"a", "b", "c", "d"}, s.Order); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
		if got := s.Conversations["c"].UnreadCount; got != 2 {
			t.Errorf("c unread = %d, want 2", got)
		}
		if s.ConversationsCursor.HasMore {
			t.Error("cursor still has more")
		}
	})

	t.Run("FullReloadReplaces", func(t *testing.T) {
		s := apply(seeded(), ConversationsLoaded{Conversations: []Conversation{testConv("d", 3)}})
		checkInvariants(t, s)
		if diff := cmp.Diff([]string{"d"}, s.Order); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
		if s.TotalUnread != 3 {
			t.Errorf("TotalUnread = %d, want 3", s.TotalUnread)
		}
	})

	t.Run("FullReloadKeepsListedActive", func(t *testing.T) {
		s := apply(seeded(),
			ConversationSelected{ConversationID: "b"},
			ConversationsLoaded{Conversations: []Conversation{testConv("d", 1), testConv("b", 0)}},
		)
		if _, ok := s.Active(); !ok || s.ActiveID != "b" {
			t.Errorf("ActiveID = %q, want b", s.ActiveID)
		}
	})

	t.Run("FullReloadDropsUnlistedActive", func(t *testing.T) {
		s := apply(seeded(),
			ConversationSelected{ConversationID: "b"},
			ConversationsLoaded{Conversations: []Conversation{testConv("d", 1)}},
		)
		if s.ActiveID != "" {
			t.Errorf("ActiveID = %q, want cleared", s.ActiveID)
		}
		s = Reduce(s, MessageReceived{Message: testMsg("d", "m9", "bob")})
		if s.TotalUnread != 2 {
			t.Errorf("TotalUnread = %d, want 2", s.TotalUnread)
		}
	})

	t.Run("UpsertUnknownInsertsAtFront", func(t *testing.T) {
		s := Reduce(seeded(), ConversationUpserted{Conversation: testConv("z", 4)})
		checkInvariants(t, s)
		if diff := cmp.Diff([]string{"z", "a", "b", "c"}, s.Order); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
	})

	t.Run("UpsertKnownPreservesUnread", func(t *testing.T) {
		updated := testConv("c", 0)
		updated.Title = "renamed"
		s := Reduce(seeded(), ConversationUpserted{Conversation: updated, PreserveUnread: true})
		checkInvariants(t, s)
		c := s.Conversations["c"]
		if c.Title != "renamed" || c.UnreadCount != 2 {
			t.Errorf("conversation = %+v", c)
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, s.Order); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
	})

	t.Run("Removed", func(t *testing.T) {
		s := apply(seeded(),
			ConversationSelected{ConversationID: "a"},
			TypingStarted{ConversationID: "a", UserID: "bob", DisplayName: "Bob"},
			ConversationRemoved{ConversationID: "a"},
		)
		checkInvariants(t, s)
		if s.ActiveID != "" {
			t.Errorf("ActiveID = %q", s.ActiveID)
		}
		if _, ok := s.Messages["a"]; ok {
			t.Error("messages of removed conversation kept")
		}
		if len(s.Typing.Users("a")) != 0 {
			t.Error("typing of removed conversation kept")
		}
		if s.TotalUnread != 2 {
			t.Errorf("TotalUnread = %d, want 2", s.TotalUnread)
		}
	})

	t.Run("SelectUnknownIsNoop", func(t *testing.T) {
		s := seeded()
		if next := Reduce(s, ConversationSelected{ConversationID: "zzz"}); next != s {
			t.Error("selecting an unknown conversation changed the state")
		}
	})
}

func TestReduce_conversationRead(t *testing.T) {
	at := t0.Add(time.Hour)

	t.Run("Self", func(t *testing.T) {
		s := Reduce(seeded(), ConversationRead{ConversationID: "c", UserID: "me", At: at})
		checkInvariants(t, s)
		c := s.Conversations["c"]
		if c.UnreadCount != 0 {
			t.Errorf("unread = %d, want 0", c.UnreadCount)
		}
		p, _ := c.Participant("me")
		if p.LastReadAt == nil || !p.LastReadAt.Equal(at) {
			t.Errorf("LastReadAt = %v, want %v", p.LastReadAt, at)
		}
		if s.TotalUnread != 1 {
			t.Errorf("TotalUnread = %d, want 1", s.TotalUnread)
		}
	})

	t.Run("OtherUser", func(t *testing.T) {
		seed := seeded()
		s := Reduce(seed, ConversationRead{ConversationID: "c", UserID: "bob", At: at})
		c := s.Conversations["c"]
		if c.UnreadCount != 2 {
			t.Errorf("unread = %d, want 2", c.UnreadCount)
		}
		p, _ := c.Participant("bob")
		if p.LastReadAt == nil || !p.LastReadAt.Equal(at) {
			t.Errorf("LastReadAt = %v, want %v", p.LastReadAt, at)
		}
		sc := seed.Conversations["c"]
		if p, _ := sc.Participant("bob"); p.LastReadAt != nil {
			t.Error("input state was modified")
		}
	})
}

func TestReduce_search(t *testing.T) {
	s := apply(NewState("me"),
		SearchRequested{Query: "old"},
		SearchRequested{Query: "new"},
		SearchCompleted{Query: "old", Results: []Message{testMsg("a", "stale", "bob")}},
	)
	if !s.Search.Loading || len(s.Search.Results) != 0 {
		t.Fatalf("stale completion applied: %+v", s.Search)
	}

	s = Reduce(s, SearchCompleted{Query: "new", Results: []Message{testMsg("a", "hit", "bob")}})
	if s.Search.Loading || len(s.Search.Results) != 1 || s.Search.Results[0].ID != "hit" {
		t.Errorf("search = %+v", s.Search)
	}

	s = apply(s, SearchRequested{Query: "broken"}, SearchFailed{Query: "broken", Err: errors.New("500")})
	if s.Search.Loading || s.Search.Err == nil {
		t.Errorf("search = %+v", s.Search)
	}
}

func TestReduce_typingAndPresence(t *testing.T) {
	s := apply(seeded(),
		TypingStarted{ConversationID: "a", UserID: "bob", DisplayName: "Bob"},
		TypingStarted{ConversationID: "a", UserID: "me", DisplayName: "Me"},
		PresenceSnapshot{UserIDs: []string{"bob", "carol"}},
		UserOnline{UserID: "dave"},
		UserOnline{UserID: "dave"},
		UserOffline{UserID: "carol"},
		UserOffline{UserID: "nobody"},
	)

	want := []TypingUser{{UserID: "bob", DisplayName: "Bob"}}
	if diff := cmp.Diff(want, s.Typing.Users("a")); diff != "" {
		t.Errorf("typing (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bob", "dave"}, s.Online.List()); diff != "" {
		t.Errorf("online (-want +got):\n%s", diff)
	}

	s = Reduce(s, TypingStopped{ConversationID: "a", UserID: "bob"})
	if len(s.Typing.Users("a")) != 0 {
		t.Error("typing entry not cleared")
	}
}

func TestReduce_transport(t *testing.T) {
	s := apply(NewState("me"),
		TransportConnected{},
		TypingStarted{ConversationID: "a", UserID: "bob"},
		TransportDisconnected{Reason: "eof"},
		TransportReconnecting{Attempt: 1, Delay: time.Second},
	)
	if s.Transport.State != StateReconnecting || s.Transport.Attempt != 1 {
		t.Errorf("transport = %+v", s.Transport)
	}
	if len(s.Typing) != 0 {
		t.Error("typing survived a disconnect")
	}

	s = Reduce(s, TransportConnected{Reconnected: true})
	want := TransportStatus{State: StateConnected, Reconnects: 1}
	if diff := cmp.Diff(want, s.Transport, stateOpts...); diff != "" {
		t.Errorf("transport (-want +got):\n%s", diff)
	}

	s = Reduce(s, TransportError{Err: fmt.Errorf("dial: %w", ErrReconnectExhausted)})
	if s.Transport.State != StateDisconnected || !errors.Is(s.Transport.Err, ErrReconnectExhausted) {
		t.Errorf("transport = %+v", s.Transport)
	}
}

func TestReduce_doesNotModifyInput(t *testing.T) {
	s := seeded()
	pristine := seeded()

	actions := []Action{
		MessageReceived{Message: testMsg("c", "x1", "bob")},
		MessageQueued{Message: Message{ID: "tmp-1", ConversationID: "a", SenderID: "me"}},
		MessageReceived{Message: testMsg("a", "s1", "me")},
		MessageEdited{Message: testMsg("a", "m1", "bob")},
		MessageDeleted{ConversationID: "a", MessageID: "m2"},
		ReactionsChanged{ConversationID: "a", MessageID: "m1", Reactions: []Reaction{{Emoji: "🎉"}}},
		ConversationRead{ConversationID: "a", UserID: "me", At: t0},
		ConversationUpserted{Conversation: testConv("b", 5)},
		ConversationRemoved{ConversationID: "c"},
		TypingStarted{ConversationID: "a", UserID: "bob"},
		UserOnline{UserID: "bob"},
	}
	for _, a := range actions {
		next := Reduce(s, a)
		checkInvariants(t, next)
		if diff := cmp.Diff(pristine, s, stateOpts...); diff != "" {
			t.Fatalf("%s modified its input (-want +got):\n%s", a.Kind(), diff)
		}
		s = next
		pristine = Reduce(pristine, a)
	}
}
