package channels

import (
	"context"
	"strings"
	"testing"

	"github.com/agentlee/agentlee/pkg/bus"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	open := NewBaseChannel("test", bus.NewMessageBus(), nil)
	if !open.IsAllowed("anyone") {
		t.Fatalf("empty allow list should allow everyone")
	}

	restricted := NewBaseChannel("test", bus.NewMessageBus(), []string{"12345", "@alice"})
	cases := []struct {
		sender string
		want   bool
	}{
		{"12345", true},
		{"12345|alice", true},
		{"99999|alice", true},
		{"99999|bob", false},
		{"alice", true},
		{"bob", false},
	}
	for _, tc := range cases {
		if got := restricted.IsAllowed(tc.sender); got != tc.want {
			t.Fatalf("IsAllowed(%q) = %v, want %v", tc.sender, got, tc.want)
		}
	}
}

func TestBaseChannel_HandleMessagePublishes(t *testing.T) {
	mb := bus.NewMessageBus()
	c := NewBaseChannel("test", mb, nil)
	c.HandleMessage("u1", "chat9", "hello", map[string]string{"k": "v"})

	msg, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatalf("no inbound message published")
	}
	if msg.SessionKey != "test:chat9" || msg.Content != "hello" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestSplitReply_ShortPassesThrough(t *testing.T) {
	got := splitReply("hello world", 1500)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitReply_BreaksOnNewlines(t *testing.T) {
	content := strings.Repeat("line of text\n", 300)
	chunks := splitReply(content, 1500)
	if len(chunks) < 2 {
		t.Fatalf("long content not split: %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 2000 {
			t.Fatalf("chunk %d exceeds hard limit: %d chars", i, len(chunk))
		}
	}
	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(strings.TrimSpace(chunk))
		rebuilt.WriteString(" ")
	}
	if !strings.Contains(rebuilt.String(), "line of text") {
		t.Fatalf("content lost in split")
	}
}

func TestSplitReply_KeepsCodeBlocksWhole(t *testing.T) {
	code := "```go\n" + strings.Repeat("fmt.Println(\"x\")\n", 20) + "```"
	content := strings.Repeat("padding text\n", 100) + code
	chunks := splitReply(content, 1400)
	for i, chunk := range chunks {
		if strings.Count(chunk, "```")%2 != 0 {
			t.Fatalf("chunk %d splits a code block:\n%s", i, chunk)
		}
	}
}
