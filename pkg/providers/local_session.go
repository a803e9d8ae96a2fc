package providers

import (
	"context"
	"strings"
	"sync"
)

// LocalChatSession is the offline fallback. It streams canned but
// context-aware replies through the same channel interface, so the
// rest of the pipeline never branches on which session it got.
type LocalChatSession struct {
	userName string

	mu    sync.Mutex
	turns int
}

func NewLocalChatSession(userName string) *LocalChatSession {
	if strings.TrimSpace(userName) == "" {
		userName = "there"
	}
	return &LocalChatSession{userName: userName}
}

func (s *LocalChatSession) SendMessageStream(ctx context.Context, userMessage string) (<-chan StreamChunk, error) {
	s.mu.Lock()
	s.turns++
	first := s.turns == 1
	s.mu.Unlock()

	reply := s.compose(userMessage, first)
	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		// Word-by-word streaming keeps the UI path identical to the
		// cloud provider.
		for _, word := range strings.Fields(reply) {
			select {
			case <-ctx.Done():
				return
			case out <- StreamChunk{Text: word + " "}:
			}
		}
	}()
	return out, nil
}

func (s *LocalChatSession) compose(userMessage string, first bool) string {
	lower := strings.ToLower(userMessage)
	switch {
	case first:
		return "Hi " + s.userName + ". I'm running in offline mode, so my answers are limited, but your notes and memory all work. What can I do for you?"
	case strings.Contains(lower, "remember") || strings.Contains(lower, "memory"):
		return "I've noted that. You can review everything I keep with the memory commands."
	case strings.Contains(lower, "note"):
		return "Got it. I can add that to your notepad. [ACTION: ui.navigate, {\"tab\": \"notes\"}]"
	case strings.HasSuffix(strings.TrimSpace(userMessage), "?"):
		return "I can't reach a language model right now, so I can't answer that properly. Add an API key in settings and I'll do much better."
	default:
		return "Understood. I've logged that for this session."
	}
}
