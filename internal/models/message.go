package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation points at a page of a policy document.
type Citation struct {
	ID           string `json:"id"`
	DocumentName string `json:"documentName"`
	Page         int    `json:"page"`
}

// Message is one entry of a conversation transcript.
type Message struct {
	ID             int64      `json:"id,omitempty"`
	ConversationID string     `json:"conversationId"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	Suggestions    []string   `json:"suggestions,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}
