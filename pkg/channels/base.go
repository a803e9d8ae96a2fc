// Package channels connects external messaging surfaces to the
// message bus so remote users can talk to the agent.
package channels

import (
	"context"
	"strings"

	"github.com/agentlee/agentlee/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries the pieces every channel shares: its name, the
// bus it publishes into, and the sender allow list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string    { return c.name }
func (c *BaseChannel) IsRunning() bool { return c.running }

// IsAllowed checks senderID against the allow list. An empty list
// allows everyone. A compound id like "123456|username" matches an
// entry on either part; entries may carry a leading "@".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	id, user := splitSenderID(senderID)
	for _, entry := range c.allowList {
		entry = strings.TrimSpace(strings.TrimPrefix(entry, "@"))
		if entry == "" {
			continue
		}
		if entry == senderID || entry == id || (user != "" && entry == user) {
			return true
		}
	}
	return false
}

func splitSenderID(senderID string) (id, user string) {
	if idx := strings.Index(senderID, "|"); idx > 0 {
		return senderID[:idx], senderID[idx+1:]
	}
	return senderID, ""
}

// HandleMessage publishes an allowed sender's message inbound, keyed
// by "<channel>:<chat>" so each chat gets its own session.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		SessionKey: c.name + ":" + chatID,
		Metadata:   metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
