package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/agentlee/agentlee/pkg/actions"
	"github.com/agentlee/agentlee/pkg/bus"
	"github.com/agentlee/agentlee/pkg/kvstore"
	"github.com/agentlee/agentlee/pkg/memory"
	"github.com/agentlee/agentlee/pkg/providers"
	"github.com/agentlee/agentlee/pkg/voice"
)

// scriptedChat streams canned replies chunk by chunk.
type scriptedChat struct {
	mu      sync.Mutex
	replies []string
	sent    []string
}

func (s *scriptedChat) SendMessageStream(ctx context.Context, msg string) (<-chan providers.StreamChunk, error) {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	reply := "Okay."
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	}
	s.mu.Unlock()

	out := make(chan providers.StreamChunk, 16)
	go func() {
		defer close(out)
		for _, word := range strings.SplitAfter(reply, " ") {
			out <- providers.StreamChunk{Text: word}
		}
	}()
	return out, nil
}

type orderedSpeaker struct {
	mu     sync.Mutex
	events *[]string
}

func (s *orderedSpeaker) Speak(text string, onDone func()) {
	s.mu.Lock()
	*s.events = append(*s.events, "speak")
	s.mu.Unlock()
	if onDone != nil {
		onDone()
	}
}

func (s *orderedSpeaker) Cancel() {}

func newTestCoordinator(t *testing.T, chat providers.ChatSession, mutate func(*Options)) (*Coordinator, *memory.Store, kvstore.KV) {
	t.Helper()
	kv := kvstore.NewMemKV()
	store := memory.New(kv, memory.Options{})
	opts := Options{
		Memory:  store,
		Chat:    chat,
		Backend: kv,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewCoordinator(opts), store, kv
}

func TestSubmit_StreamsThenSpeaksThenActs(t *testing.T) {
	var events []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, name)
	}

	ex := actions.NewExecutor()
	ex.Register("web.search", func(context.Context, map[string]interface{}) error {
		record("act")
		return nil
	})
	chat := &scriptedChat{replies: []string{
		`Let me look that up. [ACTION: web.search, {"query": "tide tables"}]`,
	}}

	sp := &orderedSpeaker{events: &events}
	vs := voice.NewSession(voice.NewSimRecognizer(), voice.Options{Speaker: sp})
	c, store, _ := newTestCoordinator(t, chat, func(o *Options) {
		o.Executor = ex
		o.Voice = vs
		o.OnToken = func(string) { record("token") }
	})

	reply, err := c.Submit(context.Background(), "when is high tide")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply != "Let me look that up." {
		t.Fatalf("reply = %q", reply)
	}

	mu.Lock()
	defer mu.Unlock()
	// All tokens precede speech; the action runs only after speech
	// completes.
	sawSpeak := false
	for _, e := range events {
		switch e {
		case "token":
			if sawSpeak {
				t.Fatalf("token after speak: %v", events)
			}
		case "speak":
			sawSpeak = true
		case "act":
			if !sawSpeak {
				t.Fatalf("action before speech finished: %v", events)
			}
		}
	}
	if !sawSpeak || events[len(events)-1] != "act" {
		t.Fatalf("expected trailing act after speak: %v", events)
	}

	if store.TurnCount() != 2 {
		t.Fatalf("turns logged = %d, want user+agent", store.TurnCount())
	}
	if c.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", c.PendingCount())
	}
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (r *recordingSpeaker) Speak(text string, onDone func()) {
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
	if onDone != nil {
		onDone()
	}
}

func (r *recordingSpeaker) Cancel() {}

func (r *recordingSpeaker) utterances() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.spoken))
	copy(out, r.spoken)
	return out
}

// A finalized voice capture must reach the chat provider through
// Submit, with the reply narrated back through the same session.
func TestVoiceCaptureRoutesToSubmit(t *testing.T) {
	chat := &scriptedChat{replies: []string{"It starts at seven tonight."}}
	sp := &recordingSpeaker{}

	var c *Coordinator
	rec := voice.NewSimRecognizer()
	vs := voice.NewSession(rec, voice.Options{
		Speaker: sp,
		OnSubmit: func(transcript string) {
			if _, err := c.Submit(context.Background(), transcript); err != nil {
				t.Errorf("Submit from capture: %v", err)
			}
		},
	})
	c, store, _ := newTestCoordinator(t, chat, func(o *Options) {
		o.Voice = vs
	})

	if !vs.StartPushToTalk() {
		t.Fatalf("StartPushToTalk refused")
	}
	rec.HearFinal("when does the show start")
	vs.FinalizePushToTalk()

	chat.mu.Lock()
	sent := append([]string(nil), chat.sent...)
	chat.mu.Unlock()
	if len(sent) != 1 || !strings.Contains(sent[0], "when does the show start") {
		t.Fatalf("capture never reached the provider: %v", sent)
	}
	if store.TurnCount() != 2 {
		t.Fatalf("turns logged = %d, want user+agent", store.TurnCount())
	}
	utts := sp.utterances()
	if len(utts) != 1 || utts[0] != "It starts at seven tonight." {
		t.Fatalf("reply not narrated: %v", utts)
	}
}

func TestSubmit_MissingCredentialSurfacesSentinel(t *testing.T) {
	failing := chatFunc(func(ctx context.Context, msg string) (<-chan providers.StreamChunk, error) {
		return nil, providers.ErrMissingCredential
	})
	c, _, _ := newTestCoordinator(t, failing, nil)
	_, err := c.Submit(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "no API credential") {
		t.Fatalf("err = %v", err)
	}
}

type chatFunc func(ctx context.Context, msg string) (<-chan providers.StreamChunk, error)

func (f chatFunc) SendMessageStream(ctx context.Context, msg string) (<-chan providers.StreamChunk, error) {
	return f(ctx, msg)
}

func TestSubmit_RetrievedNotesReachThePrompt(t *testing.T) {
	chat := &scriptedChat{}
	c, store, _ := newTestCoordinator(t, chat, nil)
	store.UpsertNote(memory.NoteDraft{Summary: "User's dog is named Biscuit", Utility: 0.9})

	if _, err := c.Submit(context.Background(), "what's my dog called"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	chat.mu.Lock()
	defer chat.mu.Unlock()
	if !strings.Contains(chat.sent[0], "Biscuit") {
		t.Fatalf("prompt missing retrieved note: %q", chat.sent[0])
	}
}

func TestFlushConversation_EmptyBufferIsNoOp(t *testing.T) {
	broadcaster := bus.NewFlushBroadcaster()
	c, store, _ := newTestCoordinator(t, &scriptedChat{}, func(o *Options) {
		o.Broadcaster = broadcaster
	})
	c.FlushConversation()
	if store.NoteCount() != 0 {
		t.Fatalf("empty flush produced a note")
	}
	if _, ok := broadcaster.LastFlushInfo(); ok {
		t.Fatalf("empty flush broadcast an event")
	}
}

func TestFlushConversation_CondensesAndClears(t *testing.T) {
	broadcaster := bus.NewFlushBroadcaster()
	c, store, _ := newTestCoordinator(t, &scriptedChat{replies: []string{"First answer.", "Second answer."}}, func(o *Options) {
		o.Broadcaster = broadcaster
	})

	ctx := context.Background()
	if _, err := c.Submit(ctx, "first question"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := c.Submit(ctx, "second question"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.FlushConversation()

	if store.NoteCount() != 1 {
		t.Fatalf("note count = %d, want 1", store.NoteCount())
	}
	snap := store.ExportAll()
	summary := snap.Notes[0].Summary
	if !strings.Contains(summary, "first question\n---\nsecond question") {
		t.Fatalf("user texts not joined with separator: %q", summary)
	}
	if !strings.Contains(summary, "First answer.\n---\nSecond answer.") {
		t.Fatalf("agent texts not joined with separator: %q", summary)
	}

	if c.PendingCount() != 0 {
		t.Fatalf("pending buffer not cleared")
	}
	if len(c.TransmissionLog()) != 0 {
		t.Fatalf("transmission log not cleared")
	}
	ev, ok := broadcaster.LastFlushInfo()
	if !ok || ev.Count != 2 {
		t.Fatalf("flush event = %+v, %v", ev, ok)
	}

	// A second flush with nothing pending stays silent.
	c.FlushConversation()
	if store.NoteCount() != 1 {
		t.Fatalf("empty follow-up flush wrote another note")
	}
}

func TestContacts_RoundTrip(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &scriptedChat{}, nil)
	if got := c.Contacts(); len(got) != 0 {
		t.Fatalf("fresh store has contacts: %v", got)
	}
	if err := c.SaveContact(Contact{Name: "Mom", Number: "555-0100"}); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}
	if err := c.SaveContact(Contact{Name: "mom", Number: "555-0199"}); err != nil {
		t.Fatalf("SaveContact replace: %v", err)
	}
	got := c.Contacts()
	if len(got) != 1 || got[0].Number != "555-0199" {
		t.Fatalf("contacts = %v, want single updated entry", got)
	}
}
