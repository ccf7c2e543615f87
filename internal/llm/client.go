// Package llm wraps the chat-completion providers behind a single
// JSON-completion interface.
package llm

import (
	"context"
	"fmt"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Role constants for Message.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Client produces a parsed JSON object from a chat prompt. Implementations
// are expected to request a JSON-constrained response from the provider.
type Client interface {
	CompleteJSON(ctx context.Context, messages []Message) (map[string]any, error)
}

// GenerationError wraps any model-call failure: transport errors, empty
// responses, and unparseable output.
type GenerationError struct {
	Msg string
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *GenerationError) Unwrap() error { return e.Err }
