package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/faithlink/presence-service/internal/errs"
)

// Wire message types. Clients send the first three; the rest flow server → client.
const (
	TypeStartPraying   = "pastor_start_praying"
	TypeStopPraying    = "pastor_stop_praying"
	TypeHeartbeat      = "heartbeat"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeViewerCount    = "viewer_count"
	TypeSnapshot       = "snapshot"
	TypeError          = "error"
)

// ClientMessage is the decoded form of an inbound frame.
type ClientMessage interface{ clientMessage() }

// StartPrayingMessage asks to open a live session for PastorID.
type StartPrayingMessage struct {
	PastorID    string `json:"pastorId"`
	ChurchID    string `json:"churchId"`
	ChurchName  string `json:"churchName"`
	PastorName  string `json:"pastorName"`
	PrayerFocus string `json:"prayerFocus"`
}

// StopPrayingMessage asks to end the given live session.
type StopPrayingMessage struct {
	SessionID string `json:"sessionId"`
}

// HeartbeatMessage is the periodic liveness signal.
type HeartbeatMessage struct{}

func (StartPrayingMessage) clientMessage() {}
func (StopPrayingMessage) clientMessage()  {}
func (HeartbeatMessage) clientMessage()    {}

// DecodeClientMessage decodes an inbound frame by its "type" tag.
// Frames with an unknown type, or with required fields missing, are rejected
// with errs.ErrInvalidMessage; no best-effort parsing.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
	}
	switch env.Type {
	case TypeStartPraying:
		var m StartPrayingMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
		}
		if m.PastorID == "" || m.ChurchID == "" {
			return nil, fmt.Errorf("%w: pastorId and churchId required", errs.ErrInvalidMessage)
		}
		return m, nil
	case TypeStopPraying:
		var m StopPrayingMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
		}
		if m.SessionID == "" {
			return nil, fmt.Errorf("%w: sessionId required", errs.ErrInvalidMessage)
		}
		return m, nil
	case TypeHeartbeat:
		return HeartbeatMessage{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", errs.ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errs.ErrInvalidMessage, env.Type)
	}
}

// SessionStartedMessage announces a new live session.
type SessionStartedMessage struct {
	Type    string        `json:"type"`
	Session PrayerSession `json:"session"`
}

// SessionEndedMessage announces a session leaving the live set.
type SessionEndedMessage struct {
	Type            string    `json:"type"`
	SessionID       string    `json:"sessionId"`
	EndedAt         time.Time `json:"endedAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

// ViewerCountMessage carries the current viewer count for one session.
type ViewerCountMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
}

// SnapshotMessage is the full live set, sent once right after subscribe.
type SnapshotMessage struct {
	Type                 string          `json:"type"`
	Sessions             []PrayerSession `json:"sessions"`
	TotalChurchesPraying int             `json:"totalChurchesPraying"`
}

// ErrorMessage is sent to a single connection that issued a bad request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewSessionStarted(s PrayerSession) SessionStartedMessage {
	return SessionStartedMessage{Type: TypeSessionStarted, Session: s}
}

func NewSessionEnded(sessionID string, endedAt time.Time, durationMinutes int) SessionEndedMessage {
	return SessionEndedMessage{Type: TypeSessionEnded, SessionID: sessionID, EndedAt: endedAt, DurationMinutes: durationMinutes}
}

func NewViewerCount(sessionID string, count int) ViewerCountMessage {
	return ViewerCountMessage{Type: TypeViewerCount, SessionID: sessionID, Count: count}
}

func NewSnapshot(sessions []PrayerSession, totalChurches int) SnapshotMessage {
	return SnapshotMessage{Type: TypeSnapshot, Sessions: sessions, TotalChurchesPraying: totalChurches}
}

func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}
