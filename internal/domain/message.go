package domain

import "time"

// Message is the flat JSON record written to room members. The same shape
// carries chat messages, system notices, rate-limit errors, and pong replies,
// distinguished by Type.
type Message struct {
	Type      string `json:"type"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text,omitempty"`
	Count     int    `json:"count,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewChatMessage builds a broadcast record for a participant message.
// Text is expected to be sanitized already.
func NewChatMessage(sender, text string, at time.Time) Message {
	return Message{
		Type:      "message",
		Sender:    sender,
		Text:      text,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// NewSystemNotice builds a room-level notice (join/leave announcements).
func NewSystemNotice(text string, count int) Message {
	return Message{Type: "system", Text: text, Count: count}
}

// NewErrorNotice builds a per-connection error record (never broadcast).
func NewErrorNotice(text string) Message {
	return Message{Type: "error", Text: text}
}

// NewPong answers an application-level "ping" frame.
func NewPong() Message {
	return Message{Type: "pong"}
}
