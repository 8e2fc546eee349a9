// Package client implements the participant-side agent: it opens a channel to
// a room, logs in, dispatches session broadcasts and recovers from transient
// failures with an explicit manual resync instead of silent retries.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"exam-live-service/internal/domain"
	"exam-live-service/internal/protocol"
)

// State is the agent lifecycle: Disconnected -> Connecting -> Joined, back to
// Disconnected on any drop.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
)

// DefaultWatchdog bounds how long a connection attempt may spin before the
// agent gives up with a typed timeout. Mobile transport negotiation is slow,
// so the ceiling is generous.
const DefaultWatchdog = 15 * time.Second

// RejectionError carries the moderator's reason for denying admission. The
// agent never retries a rejection automatically; only the moderator can fix it.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "admission rejected: " + e.Reason
}

// Events are the client application's hooks for session broadcasts. Nil
// hooks are skipped.
type Events struct {
	OnStart       func()
	OnSync        func(protocol.Sync)
	OnFinish      func()
	OnForceSubmit func(protocol.ForceSubmit)
	OnDisconnect  func(error)
}

// Config tunes the agent.
type Config struct {
	Watchdog time.Duration
	Logger   *logrus.Logger
}

// Agent is the participant's end of the duplex channel.
type Agent struct {
	url      string
	login    protocol.Login
	events   Events
	watchdog time.Duration
	dialer   *websocket.Dialer
	log      *logrus.Entry

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex
}

// New builds an agent for one room URL (ws://host/ws?room=CODE).
func New(url string, login protocol.Login, events Events, cfg Config) *Agent {
	if cfg.Watchdog == 0 {
		cfg.Watchdog = DefaultWatchdog
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Agent{
		url:      url,
		login:    login,
		events:   events,
		watchdog: cfg.Watchdog,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.Watchdog},
		log:      cfg.Logger.WithField("component", "client"),
		state:    StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Connect opens the channel, sends the join request and waits for the
// admission verdict. The whole attempt is bounded by the watchdog: if no
// channel-open acknowledgment arrives in time the agent lands in
// Disconnected with ErrConnectionTimeout instead of spinning forever.
func (a *Agent) Connect(ctx context.Context) (*protocol.LoginSuccess, error) {
	a.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, a.watchdog)
	defer cancel()

	conn, _, err := a.dialer.DialContext(dialCtx, a.url, nil)
	if err != nil {
		a.setState(StateDisconnected)
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnectionTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	if err := a.send(protocol.MustEnvelope(protocol.TypeLogin, a.login)); err != nil {
		a.teardown()
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	granted, err := a.awaitVerdict(conn)
	if err != nil {
		a.teardown()
		return nil, err
	}

	a.setState(StateJoined)
	go a.readLoop(conn)
	a.log.WithField("participant", a.login.ID).Info("joined room")
	return granted, nil
}

// awaitVerdict reads frames until LOGIN_SUCCESS or LOGIN_FAILED, bounded by
// the watchdog. Unrelated broadcasts arriving first are dispatched normally.
func (a *Agent) awaitVerdict(conn *websocket.Conn) (*protocol.LoginSuccess, error) {
	deadline := time.Now().Add(a.watchdog)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if isTimeout(err) {
				return nil, fmt.Errorf("%w: no admission reply within %s", domain.ErrConnectionTimeout, a.watchdog)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}

		switch env.Type {
		case protocol.TypeLoginSuccess:
			var granted protocol.LoginSuccess
			if err := env.DecodePayload(&granted); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}
			return &granted, nil
		case protocol.TypeLoginFailed:
			var denied protocol.LoginFailed
			if err := env.DecodePayload(&denied); err != nil {
				denied.Reason = "admission denied"
			}
			return nil, &RejectionError{Reason: denied.Reason}
		default:
			a.dispatch(env)
		}
	}
}

func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			a.setState(StateDisconnected)
			if a.events.OnDisconnect != nil {
				a.events.OnDisconnect(fmt.Errorf("%w: %v", domain.ErrTransport, err))
			}
			return
		}
		a.dispatch(env)
	}
}

func (a *Agent) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeStart:
		if a.events.OnStart != nil {
			a.events.OnStart()
		}
	case protocol.TypeSync:
		var sync protocol.Sync
		if err := env.DecodePayload(&sync); err != nil {
			a.log.WithError(err).Warn("ignoring malformed sync")
			return
		}
		if a.events.OnSync != nil {
			a.events.OnSync(sync)
		}
	case protocol.TypeFinish:
		if a.events.OnFinish != nil {
			a.events.OnFinish()
		}
	case protocol.TypeForceSubmit:
		var cutoff protocol.ForceSubmit
		if err := env.DecodePayload(&cutoff); err != nil {
			a.log.WithError(err).Warn("ignoring malformed force-submit")
			return
		}
		if cutoff.TargetID != "" && cutoff.TargetID != a.login.ID {
			return
		}
		if a.events.OnForceSubmit != nil {
			a.events.OnForceSubmit(cutoff)
		}
	default:
		a.log.WithField("type", env.Type).Debug("ignoring unexpected message")
	}
}

// Resync re-sends the join request plus an out-of-band state-refresh request
// on the live channel. Used when the client suspects it missed broadcasts
// without tearing the channel down.
func (a *Agent) Resync() error {
	if a.State() != StateJoined {
		return domain.ErrTransport
	}
	if err := a.send(protocol.MustEnvelope(protocol.TypeRequestSync, protocol.RequestSync{ID: a.login.ID})); err != nil {
		return err
	}
	return a.send(protocol.MustEnvelope(protocol.TypeLogin, a.login))
}

// SendProgress pushes the live answer state.
func (a *Agent) SendProgress(score, progress, violations int, answers domain.AnswerSet) error {
	return a.send(protocol.MustEnvelope(protocol.TypeUpdateProgress, protocol.UpdateProgress{
		ID:         a.login.ID,
		Score:      score,
		Progress:   progress,
		Violations: violations,
		Status:     string(domain.StatusInProgress),
		Answers:    answers,
	}))
}

// Submit sends the final submission.
func (a *Agent) Submit(score, violations int, answers domain.AnswerSet) error {
	return a.send(protocol.MustEnvelope(protocol.TypeSubmit, protocol.Submit{
		ID:         a.login.ID,
		Score:      score,
		Violations: violations,
		Answers:    answers,
	}))
}

func (a *Agent) send(env protocol.Envelope) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return domain.ErrTransport
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

// Close tears the channel down.
func (a *Agent) Close() error {
	a.teardown()
	return nil
}

func (a *Agent) teardown() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.state = StateDisconnected
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
