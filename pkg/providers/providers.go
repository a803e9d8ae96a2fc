// Package providers supplies streaming chat sessions: a chat
// completions HTTP client when a credential is configured, and a
// local fallback session with the identical streaming interface.
package providers

import (
	"context"
	"errors"
	"strings"
)

// ErrMissingCredential marks requests refused for lack of a usable
// API credential. Callers surface setup guidance instead of a raw
// transport error.
var ErrMissingCredential = errors.New("no API credential configured")

// StreamChunk is one unit of a streamed reply. Err, when set, is the
// terminal chunk.
type StreamChunk struct {
	Text string
	Err  error
}

// ChatSession produces streamed model replies for one conversation.
type ChatSession interface {
	// SendMessageStream sends one user message and returns a channel
	// of reply chunks. The channel closes when the reply completes.
	SendMessageStream(ctx context.Context, message string) (<-chan StreamChunk, error)
}

// Settings selects and configures the backing session.
type Settings struct {
	APIKey       string
	APIBase      string
	Model        string
	Proxy        string
	SystemPrompt string
	UserName     string
}

// CreateChat builds a session for the configured provider. Without an
// API key it degrades to the local fallback rather than failing.
func CreateChat(settings Settings) ChatSession {
	if strings.TrimSpace(settings.APIKey) == "" {
		return NewLocalChatSession(settings.UserName)
	}
	session, err := newHTTPChatSession(settings)
	if err != nil {
		return NewLocalChatSession(settings.UserName)
	}
	return session
}
