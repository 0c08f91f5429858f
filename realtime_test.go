package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"nhooyr.io/websocket"
)

// wsServer is a realtime endpoint for tests. Frames sent by the client are
// collected on frames; accepted connections are published on conns.
type wsServer struct {
	t      *testing.T
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan Envelope
	auth   chan string
	stop   chan struct{}

	reject   atomic.Bool
	accepted atomic.Int32
	// mute makes the nth accepted connection stop reading (and so stop
	// answering pings).
	mute int32
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{
		t:      t,
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan Envelope, 64),
		auth:   make(chan string, 16),
		stop:   make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		close(s.stop)
		s.srv.Close()
	})
	return s
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	select {
	case s.auth <- r.Header.Get("Authorization"):
	default:
	}
	if s.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.t.Errorf("accept: %v", err)
		return
	}
	n := s.accepted.Add(1)
	s.conns <- conn

	if n == s.mute {
		<-s.stop
		return
	}
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.t.Errorf("bad frame %q: %v", data, err)
			continue
		}
		s.frames <- env
	}
}

func (s *wsServer) push(conn *websocket.Conn, typ string, payload any) {
	s.t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		s.t.Fatal(err)
	}
	data, _ := json.Marshal(Envelope{Type: typ, Payload: p})
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		s.t.Fatalf("push %s: %v", typ, err)
	}
}

func (s *wsServer) nextConn() *websocket.Conn {
	s.t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(5 * time.Second):
		s.t.Fatal("no connection accepted")
		return nil
	}
}

func (s *wsServer) nextFrame() Envelope {
	s.t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(5 * time.Second):
		s.t.Fatal("no frame received")
		return Envelope{}
	}
}

func testRealtimeConfig(t *testing.T) *RealtimeConfig {
	return &RealtimeConfig{
		Token:              "tok",
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
		Logger:             slogt.New(t),
	}
}

func nextEvent(t *testing.T, ch <-chan Action) Action {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(10 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// waitFor skips events until one of type T arrives.
func waitFor[T Action](t *testing.T, ch <-chan Action) T {
	t.Helper()
	for {
		if v, ok := nextEvent(t, ch).(T); ok {
			return v
		}
	}
}

func TestRealtimeClient_connectAndReceive(t *testing.T) {
	srv := newWSServer(t)
	rt := NewRealtimeClient(srv.srv.URL, testRealtimeConfig(t))
	t.Cleanup(func() { rt.Disconnect() })

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := <-srv.auth; got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	conn := srv.nextConn()

	if got := waitFor[TransportConnected](t, rt.Events()); got.Reconnected {
		t.Error("first connect reported as reconnect")
	}
	if rt.State() != StateConnected {
		t.Errorf("state = %s", rt.State())
	}

	if err := rt.JoinRoom(context.Background(), "c1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	f := srv.nextFrame()
	if f.Type != IntentJoin || string(f.Payload) != `{"conversationId":"c1"}` {
		t.Errorf("frame = %s %s", f.Type, f.Payload)
	}

	srv.push(conn, "no:such:event", map[string]string{})
	srv.push(conn, EventMessageNew, Message{ID: "s1", ConversationID: "c1", SenderID: "bob", Content: "hi"})
	srv.push(conn, EventTypingStart, TypingPayload{ConversationID: "c1", UserID: "bob", DisplayName: "Bob"})

	got := nextEvent(t, rt.Events())
	recv, ok := got.(MessageReceived)
	if !ok || recv.Message.ID != "s1" || recv.Message.Content != "hi" {
		t.Fatalf("event = %#v", got)
	}
	want := TypingStarted{ConversationID: "c1", UserID: "bob", DisplayName: "Bob"}
	if diff := cmp.Diff(want, nextEvent(t, rt.Events())); diff != "" {
		t.Errorf("typing event (-want +got):\n%s", diff)
	}
}

func TestRealtimeClient_outboundIntents(t *testing.T) {
	srv := newWSServer(t)
	rt := NewRealtimeClient(srv.srv.URL, testRealtimeConfig(t))
	t.Cleanup(func() { rt.Disconnect() })

	if err := rt.MarkRead(context.Background(), "c1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("MarkRead before connect = %v, want ErrNotConnected", err)
	}
	if err := rt.JoinRoom(context.Background(), "c1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("JoinRoom before connect = %v, want ErrNotConnected", err)
	}
	if diff := cmp.Diff([]string{"c1"}, rt.Rooms()); diff != "" {
		t.Errorf("rooms (-want +got):\n%s", diff)
	}

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv.nextConn()
	// Rooms joined while offline are joined on connect.
	if f := srv.nextFrame(); f.Type != IntentJoin {
		t.Errorf("first frame = %s, want %s", f.Type, IntentJoin)
	}

	ctx := context.Background()
	steps := []struct {
		send func() error
		want string
	}{
		{func() error { return rt.MarkRead(ctx, "c1") }, IntentRead},
		{func() error { return rt.StartTyping(ctx, "c1") }, IntentTypingStart},
		{func() error { return rt.StopTyping(ctx, "c1") }, IntentTypingStop},
		{func() error { return rt.LeaveRoom(ctx, "c1") }, IntentLeave},
	}
	for _, step := range steps {
		if err := step.send(); err != nil {
			t.Fatalf("%s: %v", step.want, err)
		}
		if f := srv.nextFrame(); f.Type != step.want {
			t.Errorf("frame = %s, want %s", f.Type, step.want)
		}
	}
	if rooms := rt.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms after leave = %v", rooms)
	}
}

func TestRealtimeClient_reconnectRejoins(t *testing.T) {
	srv := newWSServer(t)
	rt := NewRealtimeClient(srv.srv.URL, testRealtimeConfig(t))
	t.Cleanup(func() { rt.Disconnect() })

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn := srv.nextConn()
	waitFor[TransportConnected](t, rt.Events())
	if err := rt.JoinRoom(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	srv.nextFrame()

	conn.Close(websocket.StatusGoingAway, "server restart")

	waitFor[TransportDisconnected](t, rt.Events())
	if r := waitFor[TransportReconnecting](t, rt.Events()); r.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", r.Attempt)
	}
	if c := waitFor[TransportConnected](t, rt.Events()); !c.Reconnected {
		t.Error("reconnect not flagged")
	}
	srv.nextConn()
	f := srv.nextFrame()
	if f.Type != IntentJoin || string(f.Payload) != `{"conversationId":"c1"}` {
		t.Errorf("rejoin frame = %s %s", f.Type, f.Payload)
	}
}

func TestRealtimeClient_reconnectExhausted(t *testing.T) {
	srv := newWSServer(t)
	srv.reject.Store(true)
	cfg := testRealtimeConfig(t)
	cfg.MaxReconnectAttempts = 2
	rt := NewRealtimeClient(srv.srv.URL, cfg)
	t.Cleanup(func() { rt.Disconnect() })

	if err := rt.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded against a rejecting server")
	}

	reconnecting, dialErrors := 0, 0
	for {
		a := nextEvent(t, rt.Events())
		if _, ok := a.(TransportReconnecting); ok {
			reconnecting++
			continue
		}
		te, ok := a.(TransportError)
		if !ok {
			t.Fatalf("unexpected event %#v", a)
		}
		if errors.Is(te.Err, ErrReconnectExhausted) {
			break
		}
		dialErrors++
	}
	if reconnecting != 2 || dialErrors != 3 {
		t.Errorf("reconnecting = %d, dial errors = %d; want 2 and 3", reconnecting, dialErrors)
	}

	deadline := time.Now().Add(5 * time.Second)
	for rt.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want disconnected", rt.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRealtimeClient_connectAfterExhaustion(t *testing.T) {
	srv := newWSServer(t)
	cfg := testRealtimeConfig(t)
	cfg.MaxReconnectAttempts = 1
	rt := NewRealtimeClient(srv.srv.URL, cfg)
	t.Cleanup(func() { rt.Disconnect() })

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn := srv.nextConn()
	waitFor[TransportConnected](t, rt.Events())

	srv.reject.Store(true)
	conn.CloseNow()
	for {
		te := waitFor[TransportError](t, rt.Events())
		if errors.Is(te.Err, ErrReconnectExhausted) {
			break
		}
	}
	rt.mu.Lock()
	done := rt.done
	rt.mu.Unlock()
	<-done

	srv.reject.Store(false)
	if err := rt.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after exhaustion: %v", err)
	}
	if c := waitFor[TransportConnected](t, rt.Events()); !c.Reconnected {
		t.Error("connect after a dropped session not flagged as reconnect")
	}
}

func TestRealtimeClient_heartbeatFailureReconnects(t *testing.T) {
	srv := newWSServer(t)
	srv.mute = 1
	cfg := testRealtimeConfig(t)
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	rt := NewRealtimeClient(srv.srv.URL, cfg)
	t.Cleanup(func() { rt.Disconnect() })

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv.nextConn()
	waitFor[TransportConnected](t, rt.Events())

	waitFor[TransportDisconnected](t, rt.Events())
	if c := waitFor[TransportConnected](t, rt.Events()); !c.Reconnected {
		t.Error("reconnect not flagged")
	}
}

func TestRealtimeClient_disconnect(t *testing.T) {
	srv := newWSServer(t)
	rt := NewRealtimeClient(srv.srv.URL, testRealtimeConfig(t))

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv.nextConn()
	if err := rt.Connect(context.Background()); err != nil {
		t.Errorf("second Connect = %v", err)
	}
	if err := rt.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if rt.State() != StateDisconnected {
		t.Errorf("state = %s", rt.State())
	}
	if err := rt.StartTyping(context.Background(), "c1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartTyping after disconnect = %v", err)
	}
	if err := rt.Disconnect(); err != nil {
		t.Errorf("second Disconnect = %v", err)
	}
	if got := srv.accepted.Load(); got != 1 {
		t.Errorf("accepted = %d connections, want 1", got)
	}
}

func TestReconnector_backoff(t *testing.T) {
	r := newReconnector(&RealtimeConfig{
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    5 * time.Second,
	})

	bounds := []struct{ min, max time.Duration }{
		{1 * time.Second, 1500 * time.Millisecond},
		{2 * time.Second, 2500 * time.Millisecond},
		{4 * time.Second, 4500 * time.Millisecond},
		{5 * time.Second, 5 * time.Second},
		{5 * time.Second, 5 * time.Second},
	}
	for i, b := range bounds {
		d := r.nextDelay()
		if d < b.min || d > b.max {
			t.Errorf("delay %d = %s, want within [%s, %s]", i, d, b.min, b.max)
		}
	}

	for r.shouldReconnect() {
		r.nextDelay()
	}
	if r.attempt != 10 {
		t.Errorf("attempts before giving up = %d, want 10", r.attempt)
	}
	r.reset()
	if !r.shouldReconnect() || r.attempt != 0 {
		t.Error("reset did not restore the budget")
	}
}

func TestRealtimeConfig_defaults(t *testing.T) {
	var c RealtimeConfig
	c.defaults()
	if c.MaxReconnectAttempts != 10 || c.ReconnectBaseDelay != time.Second || c.ReconnectMaxDelay != 5*time.Second {
		t.Errorf("config = %+v", c)
	}
	rt := NewRealtimeClient("https://chat.example.com/", nil)
	if rt.url != "wss://chat.example.com/ws" {
		t.Errorf("url = %s", rt.url)
	}
}
