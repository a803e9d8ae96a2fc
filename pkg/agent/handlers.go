package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentlee/agentlee/pkg/actions"
	"github.com/agentlee/agentlee/pkg/logger"
	"github.com/agentlee/agentlee/pkg/memory"
	"github.com/agentlee/agentlee/pkg/notes"
)

// HandlerDeps are the collaborators the built-in action handlers
// reach for.
type HandlerDeps struct {
	Coordinator *Coordinator
	Memory      *memory.Store
	Notes       *notes.Projector
	// GenerateImage produces an image URL for a prompt. Nil disables
	// image actions.
	GenerateImage func(ctx context.Context, prompt string) (string, error)
	// WebSearch opens a search; the handler only records the query.
	WebSearch func(ctx context.Context, query string) error
	// Navigate switches the UI surface with an optional follow-up.
	Navigate func(tab, prompt string)
	// Announce surfaces handler output back to the user.
	Announce func(text string)
}

// RegisterDefaultHandlers binds the built-in action set onto ex.
func RegisterDefaultHandlers(ex *actions.Executor, deps HandlerDeps) {
	announce := deps.Announce
	if announce == nil {
		announce = func(text string) {
			logger.InfoC("agent", "%s", text)
		}
	}

	ex.Register("image.generate", func(ctx context.Context, p map[string]interface{}) error {
		prompt := actions.StringField(p, "prompt")
		if prompt == "" {
			return fmt.Errorf("image.generate requires a prompt")
		}
		if deps.GenerateImage == nil {
			return fmt.Errorf("image generation not configured")
		}
		url, err := deps.GenerateImage(ctx, prompt)
		if err != nil {
			return err
		}
		deps.Coordinator.SetLastImageURL(url)
		if deps.Notes != nil {
			if _, err := deps.Notes.AddNote(prompt, notes.NoteContent{
				Kind:     notes.KindImage,
				Prompt:   prompt,
				ImageURL: url,
			}, ""); err != nil {
				return err
			}
		}
		announce("Image ready: " + url)
		return nil
	})

	ex.Register("image.describe", func(ctx context.Context, p map[string]interface{}) error {
		url := deps.Coordinator.LastImageURL()
		if url == "" {
			announce("There's no recent image to describe.")
			return nil
		}
		announce("The last image I made is at " + url)
		return nil
	})

	ex.Register("call.dial", func(ctx context.Context, p map[string]interface{}) error {
		target := actions.StringField(p, "contact")
		if target == "" {
			target = actions.StringField(p, "number")
		}
		if target == "" {
			return fmt.Errorf("call.dial requires a contact or number")
		}
		for _, c := range deps.Coordinator.Contacts() {
			if strings.EqualFold(c.Name, target) {
				announce("Dialing " + c.Name + " at " + c.Number)
				return nil
			}
		}
		announce("Dialing " + target)
		return nil
	})

	ex.Register("camera.analyze", func(ctx context.Context, p map[string]interface{}) error {
		announce("Camera analysis requires an active camera feed.")
		return nil
	})

	ex.Register("memory.query", func(ctx context.Context, p map[string]interface{}) error {
		query := actions.StringField(p, "query")
		result := deps.Memory.RetrieveContext(memory.RetrievalOptions{Query: query, LimitNotes: 3})
		if len(result.Notes) == 0 {
			announce("I don't have anything stored about that.")
			return nil
		}
		lines := make([]string, 0, len(result.Notes))
		for _, n := range result.Notes {
			lines = append(lines, "- "+n.Summary)
		}
		announce("Here's what I remember:\n" + strings.Join(lines, "\n"))
		return nil
	})

	ex.Register("web.search", func(ctx context.Context, p map[string]interface{}) error {
		query := actions.StringField(p, "query")
		if query == "" {
			return fmt.Errorf("web.search requires a query")
		}
		if deps.WebSearch != nil {
			return deps.WebSearch(ctx, query)
		}
		announce("Searching the web for: " + query)
		return nil
	})

	ex.Register("ui.navigate", func(ctx context.Context, p map[string]interface{}) error {
		tab := actions.StringField(p, "tab")
		if tab == "" {
			return fmt.Errorf("ui.navigate requires a tab")
		}
		if deps.Navigate != nil {
			deps.Navigate(tab, actions.StringField(p, "prompt"))
			return nil
		}
		announce("Switching to " + tab)
		return nil
	})

	ex.Register("contacts.list", func(ctx context.Context, p map[string]interface{}) error {
		list := deps.Coordinator.Contacts()
		if len(list) == 0 {
			announce("No contacts saved yet.")
			return nil
		}
		lines := make([]string, 0, len(list))
		for _, c := range list {
			lines = append(lines, "- "+c.Name+": "+c.Number)
		}
		announce("Saved contacts:\n" + strings.Join(lines, "\n"))
		return nil
	})
}
