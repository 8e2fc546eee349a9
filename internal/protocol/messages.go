// Package protocol defines the typed messages exchanged between the moderator
// and participants over the duplex channel. Every frame is an Envelope whose
// Type selects the payload; unknown or malformed frames are rejected at decode
// so the session controller can ignore them without crashing.
package protocol

import (
	"encoding/json"
	"fmt"

	"exam-live-service/internal/domain"
)

const (
	TypeLogin          = "LOGIN"
	TypeLoginSuccess   = "LOGIN_SUCCESS"
	TypeLoginFailed    = "LOGIN_FAILED"
	TypeStart          = "START"
	TypeSync           = "SYNC"
	TypeUpdateProgress = "UPDATE_PROGRESS"
	TypeSubmit         = "SUBMIT"
	TypeForceSubmit    = "FORCE_SUBMIT"
	TypeFinish         = "FINISH"
	TypeRequestSync    = "REQUEST_SYNC"
)

// Envelope is the wire frame: a type tag plus an opaque payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Login is the participant's join request.
type Login struct {
	ID         string `json:"id"`
	Credential string `json:"credential,omitempty"`
}

// SessionState tells a joining participant where the session currently is.
type SessionState struct {
	Status   string `json:"status"`
	TimeLeft int    `json:"timeLeft"`
	Paused   bool   `json:"paused,omitempty"`
}

// SessionConfig carries per-join presentation settings. The shuffle seed is
// generated once per admission so the ordering survives a reconnect.
type SessionConfig struct {
	ShuffleQuestions bool  `json:"shuffleQuestions"`
	ShuffleOptions   bool  `json:"shuffleOptions"`
	ShuffleSeed      int64 `json:"shuffleSeed"`
}

// LoginSuccess grants admission. The exam is redacted: no answer keys.
type LoginSuccess struct {
	Exam        domain.Exam        `json:"exam"`
	Participant domain.Participant `json:"participant"`
	Session     SessionState       `json:"session"`
	Config      SessionConfig      `json:"config"`
}

// LoginFailed denies admission; the channel closes shortly after.
type LoginFailed struct {
	Reason string `json:"reason"`
}

// Sync is the periodic or on-demand state broadcast. Nil TimeLeft means the
// timer value is unchanged.
type Sync struct {
	TimeLeft *int   `json:"timeLeft,omitempty"`
	Status   string `json:"status,omitempty"`
}

// UpdateProgress is a live answer-state push. When Answers is present the
// engine re-scores it against the answer key and its result wins over Score.
type UpdateProgress struct {
	ID         string           `json:"id"`
	Score      int              `json:"score"`
	Progress   int              `json:"progress"`
	Status     string           `json:"status,omitempty"`
	Violations int              `json:"violations,omitempty"`
	Answers    domain.AnswerSet `json:"answers,omitempty"`
}

// Submit is the final submission for one participant.
type Submit struct {
	ID         string           `json:"id"`
	Score      int              `json:"score"`
	Violations int              `json:"violations,omitempty"`
	Answers    domain.AnswerSet `json:"answers,omitempty"`
}

// ForceSubmit is the moderator cutoff for a single participant.
type ForceSubmit struct {
	TargetID string `json:"targetId"`
}

// RequestSync asks the moderator to re-send session state out of band.
type RequestSync struct {
	ID string `json:"id"`
}

// NewEnvelope marshals a payload into a typed envelope.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads built from static struct literals.
func MustEnvelope(typ string, payload any) Envelope {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Known reports whether the type tag belongs to the message catalog. The
// session controller drops unknown tags instead of failing the connection.
func Known(typ string) bool {
	switch typ {
	case TypeLogin, TypeLoginSuccess, TypeLoginFailed, TypeStart, TypeSync,
		TypeUpdateProgress, TypeSubmit, TypeForceSubmit, TypeFinish, TypeRequestSync:
		return true
	}
	return false
}
