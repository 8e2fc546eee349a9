package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"exam-live-service/internal/app"
	"exam-live-service/internal/protocol"
)

// WSHandler upgrades participant connections and bridges them into their
// room as duplex channels.
type WSHandler struct {
	manager  *app.Manager
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewWSHandler(manager *app.Manager, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "ws"),
	}
}

// wsChannel adapts a gorilla connection to the app.Channel contract. All
// writes go through a single pump goroutine; a full send buffer counts as a
// dead peer rather than a reason to block the fan-out.
type wsChannel struct {
	conn *websocket.Conn
	send chan protocol.Envelope
	once sync.Once
	done chan struct{}
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	ch := &wsChannel{
		conn: conn,
		send: make(chan protocol.Envelope, 32),
		done: make(chan struct{}),
	}
	go ch.writePump()
	return ch
}

func (ch *wsChannel) writePump() {
	for {
		select {
		case <-ch.done:
			return
		case env := <-ch.send:
			if err := ch.conn.WriteJSON(env); err != nil {
				_ = ch.Close()
				return
			}
		}
	}
}

func (ch *wsChannel) Send(env protocol.Envelope) error {
	select {
	case <-ch.done:
		return websocket.ErrCloseSent
	case ch.send <- env:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (ch *wsChannel) Close() error {
	ch.once.Do(func() { close(ch.done) })
	return ch.conn.Close()
}

// ServeWS handles a participant connection for one room. The first frame
// must be LOGIN; afterwards inbound frames are handed to the room, which
// ignores anything malformed.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}
	room, ok := h.manager.Room(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	channel := newWSChannel(conn)

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var first protocol.Envelope
	if err := conn.ReadJSON(&first); err != nil || first.Type != protocol.TypeLogin {
		h.log.WithField("room", code).Warn("connection closed before login")
		_ = channel.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var login protocol.Login
	if err := first.DecodePayload(&login); err != nil {
		h.log.WithError(err).Warn("malformed login payload")
		_ = channel.Close()
		return
	}

	if err := room.Join(channel, login); err != nil {
		// The room already sent LOGIN_FAILED and scheduled the close.
		return
	}
	defer room.Leave(login.ID)

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			h.log.WithField("participant", login.ID).Debug("channel closed")
			return
		}
		if env.Type == protocol.TypeLogin {
			// Manual resync re-sends LOGIN on the live channel; admission is
			// idempotent so this just refreshes the state snapshot.
			var relogin protocol.Login
			if err := env.DecodePayload(&relogin); err == nil && relogin.ID == login.ID {
				_ = room.Join(channel, relogin)
			}
			continue
		}
		room.HandleInbound(env)
	}
}
