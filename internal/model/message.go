package model

import "time"

// MessageType classifies an inter-agent message.
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
	MessageAck          MessageType = "ack"
)

// MessageEndpoint identifies a sender or recipient. AIID "*" broadcasts.
type MessageEndpoint struct {
	AIID      string `json:"ai_id"`
	Machine   string `json:"machine,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AgentMessage is an asynchronous message stored as a git note under
// refs/notes/empirica/messages/<channel>/<message_id>.
type AgentMessage struct {
	MessageID  string          `json:"message_id"`
	Channel    string          `json:"channel"`
	From       MessageEndpoint `json:"from"`
	To         MessageEndpoint `json:"to"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	Type       MessageType     `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	ReplyTo    string          `json:"reply_to,omitempty"`
	ThreadID   string          `json:"thread_id,omitempty"`
	TTLSeconds int             `json:"ttl_seconds"`
	Priority   string          `json:"priority,omitempty"`
	Status     string          `json:"status,omitempty"`
	ReadBy     []string        `json:"read_by,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Expired reports whether the message's TTL has elapsed at now.
// TTLSeconds of zero means no expiry.
func (m AgentMessage) Expired(now time.Time) bool {
	if m.TTLSeconds <= 0 {
		return false
	}
	return now.After(m.Timestamp.Add(time.Duration(m.TTLSeconds) * time.Second))
}

// AddressedTo reports whether the message targets aiID (directly or broadcast).
func (m AgentMessage) AddressedTo(aiID string) bool {
	return m.To.AIID == aiID || m.To.AIID == "*"
}

// MarkRead appends aiID to ReadBy once; repeated calls are idempotent.
func (m *AgentMessage) MarkRead(aiID string) {
	for _, r := range m.ReadBy {
		if r == aiID {
			return
		}
	}
	m.ReadBy = append(m.ReadBy, aiID)
}
