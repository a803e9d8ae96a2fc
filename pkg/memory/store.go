package memory

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentlee/agentlee/pkg/kvstore"
	"github.com/agentlee/agentlee/pkg/logger"
	"github.com/google/uuid"
)

const (
	defaultStorageKey = "agentlee.memory"
	defaultMaxTurns   = 40
	defaultMaxNotes   = 200
	defaultLimitTurns = 10
	defaultLimitNotes = 6

	// Recency decay constant for note scoring: exp(-ageHours/72),
	// a roughly three-day half-life shape.
	recencyDecayHours = 72.0
)

// Options configures a Store.
type Options struct {
	StorageKey string
	MaxTurns   int
	MaxNotes   int
	// FreezeLastUsed disables the touch-on-retrieve side effect. The
	// original behavior (touching LastUsed on every read) creates a
	// self-reinforcing recency bias; it stays the default, but callers
	// can opt out.
	FreezeLastUsed bool
	// Summarizer builds note proposals from recent turns. Defaults to
	// FirstSentenceSummarizer.
	Summarizer Summarizer
	// Now is injectable for tests.
	Now func() time.Time
}

// Store holds the bounded turn FIFO and the capped note collection,
// persisting the whole state as one JSON blob under one key on every
// mutation. All state lives behind the exported methods; instances are
// independent, so tests never share process-wide state.
type Store struct {
	mu   sync.Mutex
	kv   kvstore.KV
	opts Options

	turns []Turn
	notes []Note
}

// New hydrates a Store from the backend. Corrupt or missing data yields
// an empty initial state; New never fails.
func New(backend kvstore.KV, opts Options) *Store {
	if opts.StorageKey == "" {
		opts.StorageKey = defaultStorageKey
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.MaxNotes <= 0 {
		opts.MaxNotes = defaultMaxNotes
	}
	if opts.Summarizer == nil {
		opts.Summarizer = FirstSentenceSummarizer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{kv: backend, opts: opts}
	s.load()
	return s
}

// AddTurn appends to the FIFO, trims beyond the cap, persists, and
// returns the created record. Trimming happens synchronously within the
// same call, so concurrent adds can never both skip the cap.
func (s *Store) AddTurn(role Role, text string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Turn{
		ID:          "turn-" + uuid.NewString(),
		Role:        role,
		Text:        text,
		TimestampMS: s.opts.Now().UnixMilli(),
	}
	s.turns = append(s.turns, turn)
	if len(s.turns) > s.opts.MaxTurns {
		s.turns = s.turns[len(s.turns)-s.opts.MaxTurns:]
	}
	s.persist()
	return turn
}

// UpsertNote creates or mutates a note. A draft whose ID matches an
// existing note updates summary/tags/utility in place and touches
// LastUsed; otherwise a new note is prepended. The 200-note cap is
// enforced by truncating from the tail, so the oldest-inserted note
// goes first regardless of utility.
func (s *Store) UpsertNote(draft NoteDraft) Note {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now().UnixMilli()
	utility := clamp01(draft.Utility)

	if draft.ID != "" {
		for i := range s.notes {
			if s.notes[i].ID == draft.ID {
				s.notes[i].Summary = draft.Summary
				s.notes[i].Tags = normalizeTags(draft.Tags)
				s.notes[i].Utility = utility
				s.notes[i].LastUsedMS = now
				s.persist()
				return s.notes[i]
			}
		}
	}

	note := Note{
		ID:          draft.ID,
		Summary:     draft.Summary,
		Tags:        normalizeTags(draft.Tags),
		CreatedAtMS: now,
		LastUsedMS:  now,
		Utility:     utility,
	}
	if note.ID == "" {
		note.ID = "note-" + uuid.NewString()
	}
	s.notes = append([]Note{note}, s.notes...)
	if len(s.notes) > s.opts.MaxNotes {
		s.notes = s.notes[:s.opts.MaxNotes]
	}
	s.persist()
	return note
}

// RetrieveContext returns the most recent LimitTurns turns verbatim
// (recency only, no ranking) and the top LimitNotes notes by composite
// score. Surfaced notes get their LastUsed touched unless the store was
// configured with FreezeLastUsed; summary and tags are never mutated by
// retrieval.
func (s *Store) RetrieveContext(opts RetrievalOptions) Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.LimitTurns <= 0 {
		opts.LimitTurns = defaultLimitTurns
	}
	if opts.LimitNotes <= 0 {
		opts.LimitNotes = defaultLimitNotes
	}

	start := len(s.turns) - opts.LimitTurns
	if start < 0 {
		start = 0
	}
	turns := make([]Turn, len(s.turns)-start)
	copy(turns, s.turns[start:])

	now := s.opts.Now().UnixMilli()
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(s.notes))
	for i := range s.notes {
		ranked = append(ranked, scored{idx: i, score: s.scoreNote(&s.notes[i], query, now)})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	limit := opts.LimitNotes
	if limit > len(ranked) {
		limit = len(ranked)
	}
	notes := make([]Note, 0, limit)
	touched := false
	for _, r := range ranked[:limit] {
		if !s.opts.FreezeLastUsed {
			s.notes[r.idx].LastUsedMS = now
			touched = true
		}
		notes = append(notes, s.notes[r.idx])
	}
	if touched {
		s.persist()
	}

	return Context{Turns: turns, Notes: notes}
}

// scoreNote: 0.4 recency + 0.4 utility + 0.2 query match. The match
// factor is deliberately crude substring matching, a stand-in for
// semantic search.
func (s *Store) scoreNote(n *Note, query string, nowMS int64) float64 {
	ageHours := float64(nowMS-n.LastUsedMS) / float64(time.Hour/time.Millisecond)
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours / recencyDecayHours)

	match := 0.6
	if query != "" {
		match = 0.4
		if strings.Contains(strings.ToLower(n.Summary), query) {
			match = 1.0
		} else {
			for _, tag := range n.Tags {
				if strings.Contains(strings.ToLower(tag), query) {
					match = 0.85
					break
				}
			}
		}
	}

	return 0.4*recency + 0.4*clamp01(n.Utility) + 0.2*match
}

// ProposeNoteFromRecent builds a crude extractive note draft from the
// latest user turns, or nil when fewer than minTurns turns exist.
// Zero arguments select the defaults (4 and 12).
func (s *Store) ProposeNoteFromRecent(minTurns, maxTurns int) *NoteDraft {
	s.mu.Lock()
	defer s.mu.Unlock()

	if minTurns <= 0 {
		minTurns = 4
	}
	if maxTurns <= 0 {
		maxTurns = 12
	}
	if len(s.turns) < minTurns {
		return nil
	}

	start := len(s.turns) - maxTurns
	if start < 0 {
		start = 0
	}
	recent := s.turns[start:]

	userTexts := make([]string, 0, len(recent))
	for _, t := range recent {
		if t.Role == RoleUser && strings.TrimSpace(t.Text) != "" {
			userTexts = append(userTexts, t.Text)
		}
	}
	if len(userTexts) > 5 {
		userTexts = userTexts[len(userTexts)-5:]
	}

	summary := s.opts.Summarizer.Summarize(userTexts)
	if summary == "" {
		return nil
	}
	return &NoteDraft{Summary: summary, Tags: []string{}, Utility: 0.5}
}

// ExportAll returns a full copy of the current state.
func (s *Store) ExportAll() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Turns: make([]Turn, len(s.turns)),
		Notes: make([]Note, len(s.notes)),
	}
	copy(snap.Turns, s.turns)
	copy(snap.Notes, s.notes)
	return snap
}

// ClearAll resets the store and the persisted blob.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.notes = nil
	s.persist()
}

// TurnCount reports the current FIFO length.
func (s *Store) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// NoteCount reports the current note collection length.
func (s *Store) NoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// persist serializes the whole state under one key. Storage failures
// (quota and otherwise) are swallowed; the in-memory state remains
// authoritative. Callers must hold s.mu.
func (s *Store) persist() {
	if s.kv == nil {
		return
	}
	raw, err := json.Marshal(Snapshot{Turns: s.turns, Notes: s.notes})
	if err != nil {
		return
	}
	if err := s.kv.SetItem(s.opts.StorageKey, string(raw)); err != nil {
		logger.DebugCF("memory", "persist skipped", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// load hydrates once at construction. Corrupt data yields empty state.
func (s *Store) load() {
	if s.kv == nil {
		return
	}
	raw, ok := s.kv.GetItem(s.opts.StorageKey)
	if !ok {
		return
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		logger.WarnCF("memory", "discarding corrupt memory blob", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.turns = snap.Turns
	s.notes = snap.Notes
	if len(s.turns) > s.opts.MaxTurns {
		s.turns = s.turns[len(s.turns)-s.opts.MaxTurns:]
	}
	if len(s.notes) > s.opts.MaxNotes {
		s.notes = s.notes[:s.opts.MaxNotes]
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}
