package models

import "time"

// Message is one visible turn in the conversation transcript.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	// ID is the scroll anchor, formatted "msg_{n}". Assistant turns that
	// follow a user turn carry no id of their own.
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Cached    bool      `json:"cached,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
