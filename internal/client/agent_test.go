package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"exam-live-service/internal/domain"
	"exam-live-service/internal/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fakeModerator speaks just enough of the protocol to exercise the agent.
type fakeModerator struct {
	mu       sync.Mutex
	inbound  []protocol.Envelope
	onLogin  func(conn *websocket.Conn)
	conn     *websocket.Conn
	connOnce sync.Once
	ready    chan struct{}
}

func newFakeModerator(onLogin func(conn *websocket.Conn)) *fakeModerator {
	return &fakeModerator{onLogin: onLogin, ready: make(chan struct{})}
}

func (f *fakeModerator) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.connOnce.Do(func() {
		f.conn = conn
		close(f.ready)
	})
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		f.mu.Lock()
		f.inbound = append(f.inbound, env)
		f.mu.Unlock()
		if env.Type == protocol.TypeLogin && f.onLogin != nil {
			f.onLogin(conn)
		}
	}
}

func (f *fakeModerator) received(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, env := range f.inbound {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[len("http"):] + "/ws?room=123456"
}

func grant(conn *websocket.Conn) {
	_ = conn.WriteJSON(protocol.MustEnvelope(protocol.TypeLoginSuccess, protocol.LoginSuccess{
		Session: protocol.SessionState{Status: "lobby", TimeLeft: 0},
	}))
}

func TestConnectJoinsAndDispatchesBroadcasts(t *testing.T) {
	started := make(chan struct{}, 1)
	synced := make(chan protocol.Sync, 1)

	mod := newFakeModerator(grant)
	server := httptest.NewServer(http.HandlerFunc(mod.handler))
	defer server.Close()

	agent := New(wsURL(server), protocol.Login{ID: "s1"}, Events{
		OnStart: func() { started <- struct{}{} },
		OnSync:  func(s protocol.Sync) { synced <- s },
	}, Config{Watchdog: 2 * time.Second})
	defer agent.Close()

	granted, err := agent.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if granted == nil || agent.State() != StateJoined {
		t.Fatalf("expected joined state, got %s", agent.State())
	}

	<-mod.ready
	_ = mod.conn.WriteJSON(protocol.Envelope{Type: protocol.TypeStart})
	timeLeft := 600
	_ = mod.conn.WriteJSON(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{TimeLeft: &timeLeft, Status: "live"}))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("START not dispatched")
	}
	select {
	case s := <-synced:
		if s.TimeLeft == nil || *s.TimeLeft != 600 {
			t.Fatalf("unexpected sync payload: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SYNC not dispatched")
	}
}

func TestRejectionIsTypedAndFinal(t *testing.T) {
	mod := newFakeModerator(func(conn *websocket.Conn) {
		_ = conn.WriteJSON(protocol.MustEnvelope(protocol.TypeLoginFailed, protocol.LoginFailed{
			Reason: "you are not on the roster for this room",
		}))
	})
	server := httptest.NewServer(http.HandlerFunc(mod.handler))
	defer server.Close()

	agent := New(wsURL(server), protocol.Login{ID: "intruder"}, Events{}, Config{Watchdog: 2 * time.Second})
	_, err := agent.Connect(context.Background())

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rejection.Reason == "" {
		t.Fatalf("rejection must surface the reason")
	}
	if agent.State() != StateDisconnected {
		t.Fatalf("expected disconnected after rejection, got %s", agent.State())
	}
}

func TestWatchdogBoundsSilentServer(t *testing.T) {
	// The server opens the channel but never answers the join request.
	mod := newFakeModerator(nil)
	server := httptest.NewServer(http.HandlerFunc(mod.handler))
	defer server.Close()

	agent := New(wsURL(server), protocol.Login{ID: "s1"}, Events{}, Config{Watchdog: 150 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := agent.Connect(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrConnectionTimeout) {
			t.Fatalf("expected ConnectionTimeout, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("connect hung past the watchdog")
	}
	if agent.State() != StateDisconnected {
		t.Fatalf("expected disconnected after timeout, got %s", agent.State())
	}
}

func TestResyncResendsLoginAndRequestsState(t *testing.T) {
	mod := newFakeModerator(grant)
	server := httptest.NewServer(http.HandlerFunc(mod.handler))
	defer server.Close()

	agent := New(wsURL(server), protocol.Login{ID: "s1"}, Events{}, Config{Watchdog: 2 * time.Second})
	defer agent.Close()

	if _, err := agent.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := agent.Resync(); err != nil {
		t.Fatalf("resync: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mod.received(protocol.TypeRequestSync) == 1 && mod.received(protocol.TypeLogin) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("resync frames not received: requestSync=%d login=%d",
		mod.received(protocol.TypeRequestSync), mod.received(protocol.TypeLogin))
}

func TestDisconnectSurfacesTransportError(t *testing.T) {
	dropped := make(chan error, 1)
	mod := newFakeModerator(grant)
	server := httptest.NewServer(http.HandlerFunc(mod.handler))
	defer server.Close()

	agent := New(wsURL(server), protocol.Login{ID: "s1"}, Events{
		OnDisconnect: func(err error) { dropped <- err },
	}, Config{Watchdog: 2 * time.Second})

	if _, err := agent.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-mod.ready
	_ = mod.conn.Close()

	select {
	case err := <-dropped:
		if !errors.Is(err, domain.ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not surfaced")
	}
	if agent.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", agent.State())
	}
}

func TestSendProgressRequiresConnection(t *testing.T) {
	agent := New("ws://unused", protocol.Login{ID: "s1"}, Events{}, Config{})
	if err := agent.SendProgress(1, 10, 0, domain.AnswerSet{}); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error when disconnected, got %v", err)
	}
}
