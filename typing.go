package chatsync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Inbound typing map
// ============================================================================

// TypingMap maps a conversation id to the users currently composing in it
// (user id -> display name). Like PresenceSet it is never mutated in place.
type TypingMap map[string]map[string]string

// TypingUser is one entry of a conversation's typing list.
type TypingUser struct {
	UserID      string
	DisplayName string
}

// Start returns a map in which userID is composing in conversationID.
func (t TypingMap) Start(conversationID, userID, displayName string) TypingMap {
	if cur, ok := t[conversationID]; ok {
		if name, ok := cur[userID]; ok && name == displayName {
			return t
		}
	}
	out := t.copyWithout(conversationID)
	users := make(map[string]string, len(t[conversationID])+1)
	for k, v := range t[conversationID] {
		users[k] = v
	}
	users[userID] = displayName
	out[conversationID] = users
	return out
}

// Stop returns a map in which userID is no longer composing in conversationID.
func (t TypingMap) Stop(conversationID, userID string) TypingMap {
	cur, ok := t[conversationID]
	if !ok {
		return t
	}
	if _, ok := cur[userID]; !ok {
		return t
	}
	out := t.copyWithout(conversationID)
	if len(cur) == 1 {
		return out
	}
	users := make(map[string]string, len(cur)-1)
	for k, v := range cur {
		if k != userID {
			users[k] = v
		}
	}
	out[conversationID] = users
	return out
}

// Users returns the users composing in a conversation, sorted by user id.
func (t TypingMap) Users(conversationID string) []TypingUser {
	cur := t[conversationID]
	out := make([]TypingUser, 0, len(cur))
	for id, name := range cur {
		out = append(out, TypingUser{UserID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t TypingMap) copyWithout(conversationID string) TypingMap {
	out := make(TypingMap, len(t)+1)
	for k, v := range t {
		if k != conversationID {
			out[k] = v
		}
	}
	return out
}

// ============================================================================
// Outbound typing notifier
// ============================================================================

// DefaultTypingIdle is how long after the last keystroke a typing-stop is sent.
const DefaultTypingIdle = 2 * time.Second

// TypingEmitter sends typing signals to the server. *RealtimeClient
// implements it.
type TypingEmitter interface {
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// Timer is the subset of *time.Timer used by the notifier.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TypingConfig configures a TypingNotifier.
type TypingConfig struct {
	Idle      time.Duration
	AfterFunc AfterFunc
	Logger    *slog.Logger
}

func (c *TypingConfig) defaults() {
	if c.Idle == 0 {
		c.Idle = DefaultTypingIdle
	}
	if c.AfterFunc == nil {
		c.AfterFunc = realAfterFunc
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type typingEntry struct {
	timer Timer
	gen   uint64
}

// TypingNotifier turns local keystrokes into debounced typing signals: the
// first keystroke sends typing:start, and typing:stop is sent once the
// conversation has been idle for the configured window.
type TypingNotifier struct {
	emitter TypingEmitter
	config  TypingConfig

	mu     sync.Mutex
	active map[string]*typingEntry
	gen    uint64
}

// NewTypingNotifier creates a notifier that emits through e.
func NewTypingNotifier(e TypingEmitter, config *TypingConfig) *TypingNotifier {
	var cfg TypingConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &TypingNotifier{
		emitter: e,
		config:  cfg,
		active:  make(map[string]*typingEntry),
	}
}

// Keystroke records local input in a conversation.
func (n *TypingNotifier) Keystroke(conversationID string) {
	n.mu.Lock()
	e, typing := n.active[conversationID]
	if typing {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		n.active[conversationID] = e
	}
	n.gen++
	gen := n.gen
	e.gen = gen
	e.timer = n.config.AfterFunc(n.config.Idle, func() { n.expire(conversationID, gen) })
	n.mu.Unlock()

	if !typing {
		n.emit(conversationID, true)
	}
}

// Stop cancels the idle timer and sends typing:stop if the user was typing.
// It is called after a message is sent or when the conversation is left.
func (n *TypingNotifier) Stop(conversationID string) {
	n.mu.Lock()
	e, typing := n.active[conversationID]
	if typing {
		e.timer.Stop()
		delete(n.active, conversationID)
	}
	n.mu.Unlock()

	if typing {
		n.emit(conversationID, false)
	}
}

// StopAll stops every conversation that is currently marked as typing.
func (n *TypingNotifier) StopAll() {
	n.mu.Lock()
	ids := make([]string, 0, len(n.active))
	for id := range n.active {
		ids = append(ids, id)
	}
	n.mu.Unlock()
	for _, id := range ids {
		n.Stop(id)
	}
}

// Typing reports whether a typing:start is outstanding for a conversation.
func (n *TypingNotifier) Typing(conversationID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.active[conversationID]
	return ok
}

func (n *TypingNotifier) expire(conversationID string, gen uint64) {
	n.mu.Lock()
	e, ok := n.active[conversationID]
	// A keystroke after this timer was armed owns the entry now.
	if !ok || e.gen != gen {
		n.mu.Unlock()
		return
	}
	delete(n.active, conversationID)
	n.mu.Unlock()

	n.emit(conversationID, false)
}

func (n *TypingNotifier) emit(conversationID string, start bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if start {
		err = n.emitter.StartTyping(ctx, conversationID)
	} else {
		err = n.emitter.StopTyping(ctx, conversationID)
	}
	if err != nil {
		n.config.Logger.Debug("typing signal not sent",
			"conversation", conversationID, "start", start, "err", err)
	}
}
