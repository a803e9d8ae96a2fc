package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentlee/agentlee/pkg/bus"
	"github.com/agentlee/agentlee/pkg/config"
	"github.com/agentlee/agentlee/pkg/logger"
)

// Manager owns the configured gateway channels and the single
// dispatcher that routes coordinator replies back to them.
type Manager struct {
	bus    *bus.MessageBus
	config *config.Config

	mu           sync.RWMutex
	channels     map[string]Channel
	stopDispatch context.CancelFunc
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		bus:      messageBus,
		config:   cfg,
		channels: make(map[string]Channel),
	}

	if strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return nil, fmt.Errorf("channels.discord.token is required")
	}
	discord, err := NewDiscordChannel(cfg.Channels.Discord, messageBus)
	if err != nil {
		return nil, fmt.Errorf("initialize discord channel: %w", err)
	}
	m.channels[discord.Name()] = discord

	return m, nil
}

// StartAll brings every channel up. On any failure the channels that
// did start are stopped again, so a partial gateway never runs.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	toStart := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		toStart[name] = ch
	}
	m.mu.RUnlock()

	if len(toStart) == 0 {
		logger.WarnC("channels", "No channels configured")
		return nil
	}

	var started []Channel
	for name, ch := range toStart {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				if stopErr := s.Stop(ctx); stopErr != nil {
					logger.WarnCF("channels", "Rollback stop failed", map[string]interface{}{
						"channel": s.Name(),
						"error":   stopErr.Error(),
					})
				}
			}
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		started = append(started, ch)
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.stopDispatch != nil {
		m.stopDispatch()
	}
	m.stopDispatch = cancel
	m.mu.Unlock()
	go m.dispatchOutbound(dispatchCtx)

	logger.InfoCF("channels", "Gateway channels started", map[string]interface{}{
		"count": len(started),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopDispatch != nil {
		m.stopDispatch()
		m.stopDispatch = nil
	}
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	logger.InfoC("channels", "Gateway channels stopped")
	return nil
}

// dispatchOutbound drains coordinator replies until ctx is done.
// Delivery errors are logged and never stop the loop.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		// A false read means ctx is done or the bus closed; either way
		// the dispatcher is finished.
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			logger.WarnCF("channels", "Reply for unknown channel", map[string]interface{}{
				"channel": msg.Channel,
			})
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Reply delivery failed", map[string]interface{}{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetStatus reports per-channel running state for the status command.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]interface{}, len(m.channels))
	for name, ch := range m.channels {
		status[name] = map[string]interface{}{
			"enabled": true,
			"running": ch.IsRunning(),
		}
	}
	return status
}
