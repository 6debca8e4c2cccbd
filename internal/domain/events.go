package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a session channel event on the wire.
type EventType string

const (
	EventPlayerJoined    EventType = "player-joined"
	EventGameStarted     EventType = "game-started"
	EventAnswerSubmitted EventType = "answer-submitted"
	EventGameFinished    EventType = "game-finished"
)

// Event is one of PlayerJoined, GameStarted, AnswerSubmitted or GameFinished.
type Event interface {
	Type() EventType
	isEvent()
}

type PlayerJoined struct {
	Participant Participant `json:"participant"`
}

type GameStarted struct {
	StartedAt time.Time `json:"startedAt"`
}

type AnswerSubmitted struct {
	ParticipantID  string            `json:"participantId"`
	QuestionID     string            `json:"questionId"`
	Outcome        AnswerOutcome     `json:"outcome"`
	PointsEarned   int               `json:"pointsEarned"`
	ResponseTimeMs int64             `json:"responseTime"`
	Score          int               `json:"score"`
	ProgressIndex  int               `json:"progressIndex"`
	Status         ParticipantStatus `json:"status"`
}

type GameFinished struct {
	FinishedAt time.Time `json:"finishedAt"`
}

func (PlayerJoined) Type() EventType    { return EventPlayerJoined }
func (GameStarted) Type() EventType     { return EventGameStarted }
func (AnswerSubmitted) Type() EventType { return EventAnswerSubmitted }
func (GameFinished) Type() EventType    { return EventGameFinished }

func (PlayerJoined) isEvent()    {}
func (GameStarted) isEvent()     {}
func (AnswerSubmitted) isEvent() {}
func (GameFinished) isEvent()    {}

// Envelope is the serialized form of an event published on a session channel.
type Envelope struct {
	Type    EventType       `json:"type"`
	Code    string          `json:"code"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps ev for the session identified by code.
func NewEnvelope(code string, ev Event, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}
	return Envelope{Type: ev.Type(), Code: code, At: at, Payload: payload}, nil
}

// Event decodes the payload into its concrete type.
func (e Envelope) Event() (Event, error) {
	var (
		ev  Event
		err error
	)
	switch e.Type {
	case EventPlayerJoined:
		var v PlayerJoined
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	case EventGameStarted:
		var v GameStarted
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	case EventAnswerSubmitted:
		var v AnswerSubmitted
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	case EventGameFinished:
		var v GameFinished
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return ev, nil
}

// DecodeEnvelope parses a JSON envelope and its payload.
func DecodeEnvelope(data []byte) (string, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	ev, err := env.Event()
	if err != nil {
		return "", nil, err
	}
	return env.Code, ev, nil
}
