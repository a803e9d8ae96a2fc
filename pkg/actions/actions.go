// Package actions extracts bracketed action tags from model output and
// dispatches them to registered side-effect handlers.
package actions

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agentlee/agentlee/pkg/logger"
)

// Action is one parsed action tag.
type Action struct {
	Name    string
	Payload map[string]interface{}
}

// tagPattern matches [ACTION: name, {json}] with the payload spanning
// lines if the model wraps it.
var (
	tagPattern   = regexp.MustCompile(`(?s)\[ACTION:\s*([A-Za-z0-9_.]+)\s*,\s*(\{.*?\})\s*\]`)
	spacePattern = regexp.MustCompile(`[ \t]{2,}`)
)

// Parse strips all action tags from text and returns the surviving
// actions. A payload that fails to parse drops only that action.
func Parse(text string) (string, []Action) {
	var found []Action
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		name := m[1]
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(m[2]), &payload); err != nil {
			logger.WarnCF("actions", "dropping action with malformed payload", map[string]interface{}{
				"action": name,
				"error":  err.Error(),
			})
			continue
		}
		found = append(found, Action{Name: name, Payload: payload})
	}

	clean := tagPattern.ReplaceAllString(text, "")
	clean = spacePattern.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(clean)
	return clean, found
}

// Handler performs one action's side effect.
type Handler func(ctx context.Context, payload map[string]interface{}) error

// Executor maps action names onto handlers. Unknown names are logged
// and ignored.
type Executor struct {
	handlers map[string]Handler
}

func NewExecutor() *Executor {
	return &Executor{handlers: map[string]Handler{}}
}

// Register binds a handler to an action name, replacing any previous
// binding.
func (e *Executor) Register(name string, h Handler) {
	e.handlers[name] = h
}

// Names returns the registered action names.
func (e *Executor) Names() []string {
	out := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		out = append(out, name)
	}
	return out
}

// Execute runs actions in order. Handler failures log and continue;
// one broken side effect never blocks the rest.
func (e *Executor) Execute(ctx context.Context, acts []Action) {
	for _, a := range acts {
		h, ok := e.handlers[a.Name]
		if !ok {
			logger.WarnCF("actions", "ignoring unknown action", map[string]interface{}{
				"action": a.Name,
			})
			continue
		}
		if err := h(ctx, a.Payload); err != nil {
			logger.WarnCF("actions", "action failed", map[string]interface{}{
				"action": a.Name,
				"error":  err.Error(),
			})
		}
	}
}

// StringField reads a string payload field, empty when missing or of
// the wrong type.
func StringField(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}
