package notes

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentlee/agentlee/pkg/logger"
)

// ContentKind discriminates the note content union.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindResearch ContentKind = "research"
	KindAnalysis ContentKind = "analysis"
	KindCall     ContentKind = "call"
	KindMemory   ContentKind = "memory"
)

// NoteContent is the per-kind note payload. Only the fields relevant
// to Kind are set.
type NoteContent struct {
	Kind       ContentKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Prompt     string      `json:"prompt,omitempty"`
	ImageURL   string      `json:"imageUrl,omitempty"`
	Query      string      `json:"query,omitempty"`
	Result     string      `json:"result,omitempty"`
	FileName   string      `json:"fileName,omitempty"`
	Analysis   string      `json:"analysis,omitempty"`
	Contact    string      `json:"contact,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
}

// Note is the notepad-facing view of a stored item. IDs are numeric
// projections of the store's opaque ids and regenerate deterministically.
type Note struct {
	ID      int         `json:"id"`
	Title   string      `json:"title"`
	Date    time.Time   `json:"date"`
	Tag     string      `json:"tag"`
	Content NoteContent `json:"content"`
}

// Projector adapts the generic item store into the Note shape the
// notepad consumes. It keeps a numeric-to-opaque id map, rebuilt
// wholesale on every refresh.
type Projector struct {
	store *ItemStore

	mu       sync.Mutex
	notes    []Note
	activeID int
	toOpaque map[int]string
	toNum    map[string]int

	subs   map[int]func([]Note, int)
	order  []int
	nextID int

	unsub func()
}

// NewProjector wraps store and performs the initial refresh.
func NewProjector(store *ItemStore) *Projector {
	p := &Projector{
		store:    store,
		toOpaque: map[int]string{},
		toNum:    map[string]int{},
		subs:     map[int]func([]Note, int){},
	}
	p.unsub = store.Subscribe(p.refresh)
	p.refresh()
	return p
}

// Close detaches the projector from the store.
func (p *Projector) Close() {
	if p.unsub != nil {
		p.unsub()
	}
}

// NumericID projects an opaque store id onto a stable positive int.
// The offset keeps projected ids clear of small hand-assigned ones.
func NumericID(opaque string) int {
	var h int32
	for _, r := range opaque {
		h = h*31 + int32(r)
	}
	v := int(h)
	if v < 0 {
		v = -v
	}
	return v + 1000000000
}

func (p *Projector) refresh() {
	items, err := p.store.List(false)
	if err != nil {
		logger.WarnCF("notes", "item list failed during refresh", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	activeOpaque, _ := p.store.GetActive()

	notes := make([]Note, 0, len(items))
	toOpaque := make(map[int]string, len(items))
	toNum := make(map[string]int, len(items))
	for _, it := range items {
		num := NumericID(it.ID)
		toOpaque[num] = it.ID
		toNum[it.ID] = num
		notes = append(notes, p.projectItem(it, num))
	}

	p.mu.Lock()
	p.notes = notes
	p.toOpaque = toOpaque
	p.toNum = toNum
	p.activeID = toNum[activeOpaque]
	snapshot := make([]Note, len(notes))
	copy(snapshot, notes)
	active := p.activeID
	listeners := make([]func([]Note, int), 0, len(p.subs))
	for _, id := range p.order {
		if fn, ok := p.subs[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot, active)
	}
}

func (p *Projector) projectItem(it Item, num int) Note {
	content := NoteContent{Kind: KindText, Text: it.Utterance}
	tag := ""
	for _, t := range it.Tags {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case string(KindImage):
			content.Kind = KindImage
			content.Prompt = it.Utterance
			content.Text = ""
			if arts, err := p.store.ListArtifacts(it.ID); err == nil {
				for _, a := range arts {
					if a.Kind == "image" {
						content.ImageURL = a.URL
						break
					}
				}
			}
		case string(KindResearch):
			content.Kind = KindResearch
		case string(KindAnalysis):
			content.Kind = KindAnalysis
		case string(KindCall):
			content.Kind = KindCall
		case string(KindMemory):
			content.Kind = KindMemory
		default:
			if tag == "" {
				tag = t
			}
		}
	}
	return Note{
		ID:      num,
		Title:   it.Title,
		Date:    it.Updated,
		Tag:     tag,
		Content: content,
	}
}

// Notes returns the current projected note list, newest-first.
func (p *Projector) Notes() []Note {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Note, len(p.notes))
	copy(out, p.notes)
	return out
}

// ActiveNoteID returns the projected active note id, 0 when none.
func (p *Projector) ActiveNoteID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeID
}

// SetActiveNoteID maps the numeric id back to the store. Zero or an
// unmapped id clears the active pointer.
func (p *Projector) SetActiveNoteID(id int) error {
	p.mu.Lock()
	opaque := p.toOpaque[id]
	p.mu.Unlock()
	return p.store.SetActive(opaque)
}

// AddNote creates a backing item from a note payload and makes it the
// active note. Returns the projected numeric id.
func (p *Projector) AddNote(title string, content NoteContent, tag string) (int, error) {
	utterance, tags, artifacts := flattenContent(content)
	if tag != "" {
		tags = append(tags, tag)
	}
	it, err := p.store.CreateTask(title, CreateOptions{Utterance: utterance, Tags: tags})
	if err != nil {
		return 0, err
	}
	if len(artifacts) > 0 {
		if err := p.store.AttachArtifacts(it.ID, artifacts); err != nil {
			logger.WarnCF("notes", "artifact attach failed", map[string]interface{}{
				"item":  it.ID,
				"error": err.Error(),
			})
		}
	}
	if err := p.store.SetActive(it.ID); err != nil {
		return 0, err
	}
	return NumericID(it.ID), nil
}

// UpdateNote rewrites an existing note's title, content, and tag.
func (p *Projector) UpdateNote(id int, title string, content NoteContent, tag string) error {
	p.mu.Lock()
	opaque, ok := p.toOpaque[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("note %d not found", id)
	}
	utterance, tags, artifacts := flattenContent(content)
	if tag != "" {
		tags = append(tags, tag)
	}
	if tags == nil {
		tags = []string{}
	}
	if err := p.store.Update(opaque, ItemPatch{
		Title:     &title,
		Utterance: &utterance,
		Tags:      tags,
	}); err != nil {
		return err
	}
	if len(artifacts) > 0 {
		if err := p.store.AttachArtifacts(opaque, artifacts); err != nil {
			return err
		}
	}
	return nil
}

// DeleteNote recycles the backing item. Callers confirm with the user
// before invoking this.
func (p *Projector) DeleteNote(id int) error {
	p.mu.Lock()
	opaque, ok := p.toOpaque[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("note %d not found", id)
	}
	return p.store.Recycle(opaque)
}

// DeleteAllNotes recycles every projected note.
func (p *Projector) DeleteAllNotes() error {
	p.mu.Lock()
	opaques := make([]string, 0, len(p.toNum))
	for opaque := range p.toNum {
		opaques = append(opaques, opaque)
	}
	p.mu.Unlock()
	for _, opaque := range opaques {
		if err := p.store.Recycle(opaque); err != nil {
			return err
		}
	}
	return nil
}

// ImportedNote is one entry of a bulk import.
type ImportedNote struct {
	Title   string      `json:"title"`
	Tag     string      `json:"tag"`
	Content NoteContent `json:"content"`
}

// ImportNotes appends notes one at a time, same path as AddNote.
func (p *Projector) ImportNotes(batch []ImportedNote) error {
	for _, n := range batch {
		if _, err := p.AddNote(n.Title, n.Content, n.Tag); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a listener for projected-state changes. The
// listener receives the full note list and the active id.
func (p *Projector) Subscribe(fn func([]Note, int)) func() {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.order = append(p.order, id)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// flattenContent lowers a content union onto the item store's
// utterance/tags/artifacts shape.
func flattenContent(c NoteContent) (string, []string, []Artifact) {
	switch c.Kind {
	case KindImage:
		var artifacts []Artifact
		if c.ImageURL != "" {
			artifacts = append(artifacts, Artifact{Kind: "image", URL: c.ImageURL})
		}
		return "Image: " + c.Prompt, []string{string(KindImage)}, artifacts
	case KindResearch:
		text := c.Query
		if c.Result != "" {
			text += "\n\n" + c.Result
		}
		return text, []string{string(KindResearch)}, nil
	case KindAnalysis:
		text := c.Analysis
		if c.FileName != "" {
			text = c.FileName + "\n\n" + text
		}
		return text, []string{string(KindAnalysis)}, nil
	case KindCall:
		text := c.Transcript
		if c.Contact != "" {
			text = "Call with " + c.Contact + "\n\n" + text
		}
		return text, []string{string(KindCall)}, nil
	case KindMemory:
		return c.Text, []string{string(KindMemory)}, nil
	default:
		return c.Text, nil, nil
	}
}
