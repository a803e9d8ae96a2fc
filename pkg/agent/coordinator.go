// Package agent runs the conversation loop: it routes submitted
// transcripts through memory retrieval, the chat provider, speech,
// and action execution, and owns the periodic conversation flush.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentlee/agentlee/pkg/actions"
	"github.com/agentlee/agentlee/pkg/autosave"
	"github.com/agentlee/agentlee/pkg/bus"
	"github.com/agentlee/agentlee/pkg/flush"
	"github.com/agentlee/agentlee/pkg/kvstore"
	"github.com/agentlee/agentlee/pkg/logger"
	"github.com/agentlee/agentlee/pkg/memory"
	"github.com/agentlee/agentlee/pkg/providers"
	"github.com/agentlee/agentlee/pkg/voice"
)

const contactsStorageKey = "agentlee.contacts"

// Options wires a Coordinator's collaborators.
type Options struct {
	Memory  *memory.Store
	Chat    providers.ChatSession
	Backend kvstore.KV
	// Executor handles parsed actions; a nil executor ignores them.
	Executor *actions.Executor
	// Voice, when present, receives narration and state transitions.
	Voice *voice.Session
	// OnToken observes streamed reply text in receipt order.
	OnToken func(text string)
	// OnReply observes the final cleaned reply.
	OnReply func(text string)
	// Autosave, when present, is touched after every exchange.
	Autosave *autosave.Writer
	// Broadcaster publishes flush events to UI listeners.
	Broadcaster *bus.FlushBroadcaster

	RetrieveTurns int
	RetrieveNotes int
}

// Coordinator sequences one submission at a time: log, retrieve,
// stream, speak, then act.
type Coordinator struct {
	opts Options

	mu      sync.Mutex
	pending flush.PendingBuffer
	// transmissionLog mirrors the visible conversation since the last
	// flush.
	transmissionLog []string
	lastImageURL    string
	busy            bool
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.RetrieveTurns <= 0 {
		opts.RetrieveTurns = 10
	}
	if opts.RetrieveNotes <= 0 {
		opts.RetrieveNotes = 6
	}
	return &Coordinator{opts: opts}
}

// Submit runs one user utterance through the full exchange. It
// returns the cleaned reply text.
func (c *Coordinator) Submit(ctx context.Context, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", nil
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return "", fmt.Errorf("an exchange is already in progress")
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	c.appendLog("You: " + userText)
	if c.opts.Voice != nil {
		c.opts.Voice.SetThinking()
	}

	retrieved := c.opts.Memory.RetrieveContext(memory.RetrievalOptions{
		Query:      userText,
		LimitTurns: c.opts.RetrieveTurns,
		LimitNotes: c.opts.RetrieveNotes,
	})
	prompt := composePrompt(retrieved, userText)

	stream, err := c.opts.Chat.SendMessageStream(ctx, prompt)
	if err != nil {
		if c.opts.Voice != nil {
			c.opts.Voice.SetIdle()
		}
		if errors.Is(err, providers.ErrMissingCredential) {
			return "", err
		}
		return "", fmt.Errorf("chat request: %w", err)
	}

	var full strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			if c.opts.Voice != nil {
				c.opts.Voice.SetIdle()
			}
			return "", fmt.Errorf("chat stream: %w", chunk.Err)
		}
		full.WriteString(chunk.Text)
		if c.opts.OnToken != nil {
			c.opts.OnToken(chunk.Text)
		}
	}

	// Actions are parsed only after the stream completes, never from
	// partial text.
	clean, acts := actions.Parse(full.String())
	if c.opts.OnReply != nil {
		c.opts.OnReply(clean)
	}

	c.opts.Memory.AddTurn(memory.RoleUser, userText)
	c.opts.Memory.AddTurn(memory.RoleAgent, clean)
	c.mu.Lock()
	c.pending.Append(flush.ConversationTurn{User: userText, Agent: clean})
	c.transmissionLog = append(c.transmissionLog, "Agent: "+clean)
	c.mu.Unlock()

	c.speakThenAct(ctx, clean, acts)

	if c.opts.Autosave != nil {
		c.opts.Autosave.Touch()
	}
	return clean, nil
}

// speakThenAct preserves the strict speak-then-act ordering: side
// effects never start before narration for the same reply finishes.
func (c *Coordinator) speakThenAct(ctx context.Context, text string, acts []actions.Action) {
	run := func() {
		if c.opts.Executor != nil && len(acts) > 0 {
			c.opts.Executor.Execute(ctx, acts)
		}
	}
	if c.opts.Voice != nil && text != "" {
		done := make(chan struct{})
		c.opts.Voice.Speak(text, func() { close(done) })
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		run()
		return
	}
	run()
	if c.opts.Voice != nil {
		c.opts.Voice.SetIdle()
	}
}

func (c *Coordinator) appendLog(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmissionLog = append(c.transmissionLog, entry)
}

// TransmissionLog returns the visible log since the last flush.
func (c *Coordinator) TransmissionLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.transmissionLog))
	copy(out, c.transmissionLog)
	return out
}

// PendingCount reports exchanges awaiting flush.
func (c *Coordinator) PendingCount() int {
	return c.pending.Len()
}

// FlushConversation condenses all pending exchanges into one memory
// note, clears the visible log, and notifies listeners. It is the
// callback behind the flush timer and manual save.
func (c *Coordinator) FlushConversation() {
	turns := c.pending.Drain()
	if len(turns) == 0 {
		return
	}

	userParts := make([]string, 0, len(turns))
	agentParts := make([]string, 0, len(turns))
	for _, t := range turns {
		userParts = append(userParts, t.User)
		agentParts = append(agentParts, t.Agent)
	}
	summary := "Conversation: " + strings.Join(userParts, "\n---\n") +
		"\nAgent: " + strings.Join(agentParts, "\n---\n")

	c.opts.Memory.UpsertNote(memory.NoteDraft{
		Summary: summary,
		Tags:    []string{"conversation"},
		Utility: 0.4,
	})

	c.mu.Lock()
	c.transmissionLog = nil
	c.mu.Unlock()

	if c.opts.Autosave != nil {
		if snap, err := autosave.BuildSnapshot("flush", "session", "conversation", map[string]interface{}{
			"count": len(turns),
		}); err == nil {
			c.opts.Autosave.Snapshot(snap)
		}
	}

	event := bus.FlushEvent{At: time.Now(), Count: len(turns)}
	if c.opts.Broadcaster != nil {
		c.opts.Broadcaster.Publish(event)
	}
	logger.InfoCF("agent", "conversation flushed", map[string]interface{}{
		"turns": event.Count,
	})
}

// SetLastImageURL records the most recent generated image for the
// image.describe action.
func (c *Coordinator) SetLastImageURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastImageURL = url
}

// LastImageURL returns the most recent generated image URL.
func (c *Coordinator) LastImageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastImageURL
}

// Contact is one saved dialing entry.
type Contact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Contacts loads the saved contact list from the KV backend.
func (c *Coordinator) Contacts() []Contact {
	if c.opts.Backend == nil {
		return nil
	}
	raw, ok := c.opts.Backend.GetItem(contactsStorageKey)
	if !ok || raw == "" {
		return nil
	}
	var list []Contact
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		logger.WarnCF("agent", "ignoring corrupt contact list", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return list
}

// SaveContact appends or replaces a contact by name.
func (c *Coordinator) SaveContact(contact Contact) error {
	if c.opts.Backend == nil {
		return fmt.Errorf("no storage backend configured")
	}
	list := c.Contacts()
	replaced := false
	for i, existing := range list {
		if strings.EqualFold(existing.Name, contact.Name) {
			list[i] = contact
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, contact)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.opts.Backend.SetItem(contactsStorageKey, string(raw))
}

// composePrompt folds retrieved memory into the outgoing message so
// the provider sees relevant context without a separate memory API.
func composePrompt(ctx memory.Context, userText string) string {
	if len(ctx.Notes) == 0 {
		return userText
	}
	var b strings.Builder
	b.WriteString("Relevant memory:\n")
	for _, n := range ctx.Notes {
		b.WriteString("- ")
		b.WriteString(n.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(userText)
	return b.String()
}
