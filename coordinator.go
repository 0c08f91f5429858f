package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the realtime side of the engine. *RealtimeClient implements it.
type Transport interface {
	TypingEmitter
	Events() <-chan Action
	JoinRoom(ctx context.Context, conversationID string) error
	LeaveRoom(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Listener is called on the coordinator goroutine after every applied action.
// It must not block. It may call Dispatch; when the queue is full the action
// is enqueued from another goroutine, so it can be applied after actions
// dispatched later.
type Listener func(prev, next *State, a Action)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	SelfID string `validate:"required"`
	// Remote is required.
	Remote RemoteStore `validate:"required"`
	// Transport is optional; without it the coordinator works from fetches only.
	Transport Transport
	// Typing is stopped for a conversation after a send or when it is left.
	Typing  *TypingNotifier
	Metrics *Metrics
	Logger  *slog.Logger

	ConversationPageSize int
	MessagePageSize      int
	QueueSize            int
	Now                  func() time.Time
}

func (c *CoordinatorConfig) defaults() {
	if c.ConversationPageSize == 0 {
		c.ConversationPageSize = 30
	}
	if c.MessagePageSize == 0 {
		c.MessagePageSize = 50
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator is the single writer of State. Intents and transport events are
// serialized through one goroutine (Run) that reduces them in arrival order
// and publishes each resulting snapshot atomically.
type Coordinator struct {
	selfID    string
	remote    RemoteStore
	transport Transport
	typing    *TypingNotifier
	metrics   *Metrics
	logger    *slog.Logger
	config    CoordinatorConfig

	state   atomic.Pointer[State]
	queue   chan Action
	running   atomic.Bool
	notifying atomic.Bool
	stopped   chan struct{}

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	fetchMu  sync.Mutex
	fetching map[string]struct{}

	effects sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Run to start applying actions.
func NewCoordinator(config *CoordinatorConfig) (*Coordinator, error) {
	if config == nil {
		return nil, errors.New("chatsync: nil coordinator config")
	}
	cfg := *config
	if err := validateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("coordinator config: %w", err)
	}
	cfg.defaults()

	c := &Coordinator{
		selfID:    cfg.SelfID,
		remote:    cfg.Remote,
		transport: cfg.Transport,
		typing:    cfg.Typing,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("user", cfg.SelfID),
		config:    cfg,
		queue:     make(chan Action, cfg.QueueSize),
		stopped:   make(chan struct{}),
		listeners: make(map[int]Listener),
		fetching:  make(map[string]struct{}),
	}
	c.state.Store(NewState(cfg.SelfID))
	return c, nil
}

// State returns the latest published snapshot. It never blocks.
func (c *Coordinator) State() *State {
	return c.state.Load()
}

// Subscribe registers l and returns a function that removes it.
func (c *Coordinator) Subscribe(l Listener) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Dispatch enqueues an action. Actions dispatched before Run starts are
// buffered; after Run has returned, Dispatch drops them.
func (c *Coordinator) Dispatch(a Action) {
	select {
	case c.queue <- a:
		return
	default:
	}
	// The loop cannot drain the queue while it is running listeners.
	if c.notifying.Load() {
		c.spawn(func() { c.enqueue(a) })
		return
	}
	c.enqueue(a)
}

func (c *Coordinator) enqueue(a Action) {
	select {
	case c.queue <- a:
	case <-c.stopped:
		c.logger.Debug("action dropped after stop", "kind", a.Kind())
	}
}

// Flush waits until every action dispatched before the call has been applied.
func (c *Coordinator) Flush(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}
	select {
	case c.queue <- b:
	case <-c.stopped:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b.done:
		return nil
	case <-c.stopped:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies actions until ctx is cancelled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("chatsync: coordinator already running")
	}
	defer close(c.stopped)

	var events <-chan Action
	if c.transport != nil {
		events = c.transport.Events()
	}

	c.logger.Debug("coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("coordinator stopped")
			return ctx.Err()
		case a := <-c.queue:
			c.apply(ctx, a)
		case a, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.apply(ctx, a)
		}
	}
}

// Wait blocks until side effects started by applied actions have finished.
func (c *Coordinator) Wait() {
	c.effects.Wait()
}

func (c *Coordinator) apply(ctx context.Context, a Action) {
	if b, ok := a.(barrier); ok {
		close(b.done)
		return
	}

	prev := c.state.Load()
	start := time.Now()
	next := Reduce(prev, a)
	c.state.Store(next)
	c.metrics.observe(a, next, time.Since(start).Seconds())
	if reconciledByPush(prev, a) {
		c.metrics.reconciled()
	}

	c.listenersMu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.Unlock()
	c.notifying.Store(true)
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("listener panicked", "kind", a.Kind(), "panic", r)
				}
			}()
			l(prev, next, a)
		}()
	}
	c.notifying.Store(false)

	c.sideEffects(ctx, prev, next, a)
}

// sideEffects starts the follow-up work some actions require. The work runs
// off the loop and reports back through Dispatch.
func (c *Coordinator) sideEffects(ctx context.Context, prev, next *State, a Action) {
	switch a := a.(type) {
	case TransportConnected:
		if !a.Reconnected {
			return
		}
		active := next.ActiveID
		c.spawn(func() {
			c.logger.Info("resyncing after reconnect", "active", active)
			if err := c.LoadConversations(ctx); err != nil {
				return
			}
			if active != "" {
				if err := c.Flush(ctx); err != nil {
					return
				}
				// A reload that no longer lists the active conversation deselects it.
				if c.State().ActiveID == active {
					c.joinRoom(ctx, active)
				} else {
					c.leaveRoom(ctx, active)
				}
			}
			_ = c.LoadPresence(ctx)
		})
	case MessageReceived:
		convID := a.Message.ConversationID
		if _, ok := prev.Conversations[convID]; ok || convID == "" {
			return
		}
		if !c.beginFetch(convID) {
			return
		}
		c.spawn(func() {
			defer c.endFetch(convID)
			conv, err := c.remote.GetConversation(ctx, convID)
			if err != nil {
				c.logger.Warn("fetch conversation for push failed", "conversation", convID, "err", err)
				return
			}
			c.Dispatch(ConversationUpserted{Conversation: *conv})
		})
	case TransportError:
		c.logger.Warn("realtime transport error", "err", a.Err)
	}
}

func (c *Coordinator) spawn(fn func()) {
	c.effects.Add(1)
	go func() {
		defer c.effects.Done()
		fn()
	}()
}

func (c *Coordinator) beginFetch(id string) bool {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if _, ok := c.fetching[id]; ok {
		return false
	}
	c.fetching[id] = struct{}{}
	return true
}

func (c *Coordinator) endFetch(id string) {
	c.fetchMu.Lock()
	delete(c.fetching, id)
	c.fetchMu.Unlock()
}

// reconciledByPush reports whether a realtime push is about to replace an
// optimistic entry.
func reconciledByPush(prev *State, a Action) bool {
	r, ok := a.(MessageReceived)
	if !ok || r.Message.SenderID != prev.SelfID {
		return false
	}
	l := prev.Messages[r.Message.ConversationID]
	return l.Index(r.Message.ID) < 0 && firstOptimisticFrom(l.Messages, prev.SelfID) >= 0
}

// ============================================================================
// Transport helpers
// ============================================================================

func (c *Coordinator) joinRoom(ctx context.Context, id string) {
	if c.transport == nil || id == "" {
		return
	}
	if err := c.transport.JoinRoom(ctx, id); err != nil {
		c.logger.Debug("join room", "conversation", id, "err", err)
	}
}

func (c *Coordinator) leaveRoom(ctx context.Context, id string) {
	if c.transport == nil || id == "" {
		return
	}
	if err := c.transport.LeaveRoom(ctx, id); err != nil {
		c.logger.Debug("leave room", "conversation", id, "err", err)
	}
}

func (c *Coordinator) stopTyping(id string) {
	if c.typing != nil && id != "" {
		c.typing.Stop(id)
	}
}
