package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	Token                string
	Path                 string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	DialTimeout          time.Duration
	EventBuffer          int
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 256
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient keeps one WebSocket connection to the chat server and turns
// inbound frames into actions. A single run goroutine dials, reads and
// reconnects; it is the only sender on the Events channel.
type RealtimeClient struct {
	url    string
	config RealtimeConfig
	events chan Action
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  RealtimeState
	rooms  map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}

	// everConnected outlives run so that a Connect after exhaustion or
	// Disconnect is still reported as a reconnect.
	everConnected atomic.Bool
}

// NewRealtimeClient creates a client for the server at baseURL
// (http(s) URLs are rewritten to ws(s)).
func NewRealtimeClient(baseURL string, config *RealtimeConfig) *RealtimeClient {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)

	return &RealtimeClient{
		url:    u + cfg.Path,
		config: cfg,
		events: make(chan Action, cfg.EventBuffer),
		logger: cfg.Logger,
		state:  StateDisconnected,
		rooms:  make(map[string]struct{}),
	}
}

// Events returns the channel of transport and wire actions.
func (rt *RealtimeClient) Events() <-chan Action {
	return rt.events
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Rooms returns the conversations currently joined, sorted.
func (rt *RealtimeClient) Rooms() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, 0, len(rt.rooms))
	for id := range rt.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connect starts the connection loop and waits for the first dial attempt.
// A failed first attempt is returned to the caller and retried in the
// background with the same backoff used after a drop. Calling Connect while
// the loop is running is a no-op.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.cancel != nil {
		rt.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.done = make(chan struct{})
	rt.state = StateConnecting
	done := rt.done
	rt.mu.Unlock()

	first := make(chan error, 1)
	go rt.run(runCtx, first, done)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops the connection loop and closes the connection.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	cancel, done := rt.cancel, rt.done
	rt.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// JoinRoom subscribes to a conversation's events. The room is remembered and
// re-joined after every reconnect, even when the join cannot be sent now.
func (rt *RealtimeClient) JoinRoom(ctx context.Context, conversationID string) error {
	rt.mu.Lock()
	rt.rooms[conversationID] = struct{}{}
	rt.mu.Unlock()
	return rt.Send(ctx, IntentJoin, conversationID)
}

// LeaveRoom unsubscribes from a conversation's events.
func (rt *RealtimeClient) LeaveRoom(ctx context.Context, conversationID string) error {
	rt.mu.Lock()
	delete(rt.rooms, conversationID)
	rt.mu.Unlock()
	return rt.Send(ctx, IntentLeave, conversationID)
}

// MarkRead sends a read receipt for a conversation.
func (rt *RealtimeClient) MarkRead(ctx context.Context, conversationID string) error {
	return rt.Send(ctx, IntentRead, conversationID)
}

// StartTyping sends a typing start indicator.
func (rt *RealtimeClient) StartTyping(ctx context.Context, conversationID string) error {
	return rt.Send(ctx, IntentTypingStart, conversationID)
}

// StopTyping sends a typing stop indicator.
func (rt *RealtimeClient) StopTyping(ctx context.Context, conversationID string) error {
	return rt.Send(ctx, IntentTypingStop, conversationID)
}

// Send writes an outbound intent frame.
func (rt *RealtimeClient) Send(ctx context.Context, intent, conversationID string) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := encodeIntent(intent, conversationID)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", intent, err)
	}
	return nil
}

// ============================================================================
// Connection loop
// ============================================================================

func (rt *RealtimeClient) run(ctx context.Context, first chan<- error, done chan struct{}) {
	defer func() {
		rt.mu.Lock()
		rt.cancel = nil
		rt.conn = nil
		rt.state = StateDisconnected
		rt.mu.Unlock()
		close(done)
	}()

	recon := newReconnector(&rt.config)
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	for {
		conn, err := rt.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				report(ctx.Err())
				return
			}
			rt.logger.Warn("realtime connect failed", "url", rt.url, "attempt", recon.attempt, "err", err)
			report(err)
			rt.emit(ctx, TransportError{Err: err})
		} else {
			recon.reset()
			rt.setConn(conn, StateConnected)
			report(nil)
			reconnected := rt.everConnected.Swap(true)
			rt.logger.Info("realtime connected", "url", rt.url, "reconnected", reconnected)
			rt.emit(ctx, TransportConnected{Reconnected: reconnected})
			rt.rejoin(ctx)

			reason := rt.serve(ctx, conn)
			rt.setConn(nil, StateDisconnected)
			if ctx.Err() != nil {
				select {
				case rt.events <- TransportDisconnected{Reason: "client disconnect"}:
				default:
				}
				return
			}
			rt.logger.Warn("realtime disconnected", "reason", reason)
			rt.emit(ctx, TransportDisconnected{Reason: reason})
		}

		if !recon.shouldReconnect() {
			rt.logger.Error("realtime reconnect attempts exhausted", "attempts", recon.attempt)
			rt.setConn(nil, StateDisconnected)
			rt.emit(ctx, TransportError{Err: ErrReconnectExhausted})
			return
		}

		delay := recon.nextDelay()
		rt.setConn(nil, StateReconnecting)
		rt.emit(ctx, TransportReconnecting{Attempt: recon.attempt, Delay: delay})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (rt *RealtimeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, rt.config.DialTimeout)
	defer cancel()

	header := http.Header{}
	if rt.config.Token != "" {
		header.Set("Authorization", "Bearer "+rt.config.Token)
	}
	conn, resp, err := websocket.Dial(dialCtx, rt.url, &websocket.DialOptions{
		HTTPClient: rt.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &APIError{Code: "UNAUTHORIZED", Message: "realtime handshake rejected", Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// serve reads frames until the connection fails and returns the reason.
func (rt *RealtimeClient) serve(ctx context.Context, conn *websocket.Conn) string {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go rt.heartbeatLoop(connCtx, conn)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Sprintf("closed: %d", status)
			}
			return err.Error()
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			rt.logger.Debug("realtime frame dropped", "err", err)
			continue
		}
		a, err := decodeEvent(env)
		if err != nil {
			rt.logger.Debug("realtime event dropped", "type", env.Type, "err", err)
			continue
		}
		rt.emit(ctx, a)
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, rt.config.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return
				}
				rt.logger.Warn("realtime heartbeat failed", "err", err)
				conn.CloseNow()
				return
			}
		}
	}
}

func (rt *RealtimeClient) rejoin(ctx context.Context) {
	for _, id := range rt.Rooms() {
		if err := rt.Send(ctx, IntentJoin, id); err != nil {
			rt.logger.Debug("realtime rejoin failed", "conversation", id, "err", err)
		}
	}
}

func (rt *RealtimeClient) setConn(conn *websocket.Conn, state RealtimeState) {
	rt.mu.Lock()
	rt.conn = conn
	rt.state = state
	rt.mu.Unlock()
}

func (rt *RealtimeClient) emit(ctx context.Context, a Action) {
	select {
	case rt.events <- a:
	case <-ctx.Done():
	}
}
