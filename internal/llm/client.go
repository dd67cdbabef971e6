package llm

import "context"

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to or received from the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client abstracts the chat-completions provider.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
