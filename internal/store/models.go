package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary is a list entry annotated with its message count.
type ConversationSummary struct {
	Conversation
	MessageCount int `json:"messageCount"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	ModelUsed      *string   `json:"modelUsed"` // Nullable
	CreatedAt      time.Time `json:"createdAt"`
}
