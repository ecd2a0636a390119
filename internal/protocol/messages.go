package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTurn  MessageType = "turn"
	TypeClientPing  MessageType = "ping"
	TypeSnapshot    MessageType = "snapshot"
	TypePong        MessageType = "pong"
	TypeErrorEvent  MessageType = "error_event"
	TypeSystemEvent MessageType = "system_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTurn carries one completed user/agent exchange to be recorded.
type ClientTurn struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UserID      string      `json:"user_id"`
	UserInput   string      `json:"user_input"`
	AgentOutput string      `json:"agent_output"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

type ClientPing struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// SnapshotEvent is the server's reply to a recorded turn: the session's
// post-turn memory view plus the persistence status for this turn.
type SnapshotEvent struct {
	Type            MessageType         `json:"type"`
	SessionID       string              `json:"session_id"`
	UserID          string              `json:"user_id"`
	State           string              `json:"state"`
	TurnCount       int                 `json:"turn_count"`
	Summary         string              `json:"summary,omitempty"`
	Preferences     map[string]string   `json:"preferences,omitempty"`
	ListPreferences map[string][]string `json:"list_preferences,omitempty"`
	Status          string              `json:"status"`
	Summarized      bool                `json:"summarized"`
}

type Pong struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTurn:
		var msg ClientTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.UserID == "" || msg.UserInput == "" {
			return nil, errors.New("invalid turn")
		}
		return msg, nil
	case TypeClientPing:
		var msg ClientPing
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
