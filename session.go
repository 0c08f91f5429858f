package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RealtimeTransport is a Transport with a connection lifecycle.
type RealtimeTransport interface {
	Transport
	Connect(ctx context.Context) error
	Disconnect() error
}

// SessionConfig configures Open.
type SessionConfig struct {
	UserID    string      `validate:"required"`
	Remote    RemoteStore `validate:"required"`
	Transport RealtimeTransport
	Metrics   *Metrics
	Logger    *slog.Logger

	// TypingIdle overrides DefaultTypingIdle.
	TypingIdle time.Duration
	// InitialLoad fetches conversations and presence during Open.
	InitialLoad bool

	ConversationPageSize int
	MessagePageSize      int
}

// Session owns everything that lives between login and logout: the
// coordinator and its loop, the realtime connection and the typing notifier.
type Session struct {
	coord     *Coordinator
	transport RealtimeTransport
	typing    *TypingNotifier
	logger    *slog.Logger

	cancel    context.CancelFunc
	runDone   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// Open builds a session for an authenticated user and starts it. A failed
// first realtime connect is not fatal: the transport keeps retrying.
func Open(ctx context.Context, config *SessionConfig) (*Session, error) {
	if config == nil {
		return nil, fmt.Errorf("open session: nil config")
	}
	cfg := *config
	if err := validateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		transport: cfg.Transport,
		logger:    cfg.Logger,
		runDone:   make(chan struct{}),
		closed:    make(chan struct{}),
	}

	ccfg := &CoordinatorConfig{
		SelfID:               cfg.UserID,
		Remote:               cfg.Remote,
		Metrics:              cfg.Metrics,
		Logger:               cfg.Logger,
		ConversationPageSize: cfg.ConversationPageSize,
		MessagePageSize:      cfg.MessagePageSize,
	}
	if cfg.Transport != nil {
		s.typing = NewTypingNotifier(cfg.Transport, &TypingConfig{Idle: cfg.TypingIdle, Logger: cfg.Logger})
		ccfg.Transport = cfg.Transport
		ccfg.Typing = s.typing
	}
	coord, err := NewCoordinator(ccfg)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.coord = coord

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.runDone)
		coord.Run(runCtx)
	}()

	if s.transport != nil {
		if err := s.transport.Connect(ctx); err != nil {
			s.logger.Warn("realtime connect failed, retrying in background", "err", err)
		}
	}
	if cfg.InitialLoad {
		if err := coord.LoadConversations(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("open session: %w", err)
		}
		if err := coord.LoadPresence(ctx); err != nil {
			s.logger.Warn("initial presence load failed", "err", err)
		}
	}
	s.logger.Info("session opened", "user", cfg.UserID)
	return s, nil
}

// Coordinator returns the session's coordinator.
func (s *Session) Coordinator() *Coordinator {
	return s.coord
}

// State returns the latest snapshot.
func (s *Session) State() *State {
	return s.coord.State()
}

// Typing returns the outbound typing notifier, or nil without a transport.
func (s *Session) Typing() *TypingNotifier {
	return s.typing
}

// Keystroke reports local input in a conversation.
func (s *Session) Keystroke(conversationID string) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if s.typing != nil {
		s.typing.Keystroke(conversationID)
	}
	return nil
}

// Closed is closed once Close has been called.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.typing != nil {
			s.typing.StopAll()
		}
		if s.transport != nil {
			err = s.transport.Disconnect()
		}
		s.cancel()
		<-s.runDone
		s.coord.Wait()
		s.logger.Info("session closed")
	})
	return err
}
