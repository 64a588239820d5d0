package protocol

import "encoding/json"

const Version = "1.0"

// Message types on the observer stream.
const (
	TypeWelcome = "WELCOME"
	TypeEvent   = "EVENT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// WelcomeMsg is the first message an observer receives.
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ServerTime      int64    `json:"server_time"`
	Generators      int      `json:"generators"`
	Types           []string `json:"types"`
	// Cursor is the last event cursor published before the client joined.
	Cursor uint64 `json:"cursor"`
}

// EventMsg wraps one Event for the observer stream.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Cursor          uint64 `json:"cursor"`
	Event           Event  `json:"event"`
}
