package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/agentlee/agentlee/pkg/bus"
	"github.com/agentlee/agentlee/pkg/config"
	"github.com/agentlee/agentlee/pkg/logger"
)

const (
	sendTimeout = 10 * time.Second
	// Discord drops a typing indicator after ~10s; refresh ahead of that.
	typingRefreshInterval = 8 * time.Second
	// Messages over 2000 characters are rejected; chunk well under it so
	// a code fence can be extended without crossing the hard cap.
	replyChunkLimit  = 1500
	fenceExtension   = 500
	newlineSearchLen = 200
	spaceSearchLen   = 100
)

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig

	typingMu sync.Mutex
	typing   map[string]*typingRef
}

// typingRef keeps one refresher goroutine per chat while any reply is
// in flight for it.
type typingRef struct {
	refs   int
	cancel context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
		typing:      make(map[string]*typingRef),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(c.onMessageCreate)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.setRunning(true)

	me, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("look up bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord channel connected", map[string]interface{}{
		"username": me.Username,
		"user_id":  me.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord channel")
	c.setRunning(false)
	c.cancelAllTyping()
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("outbound message has no chat id")
	}
	defer c.releaseTyping(msg.ChatID)

	if msg.Content == "" {
		return nil
	}
	for _, part := range splitReply(msg.Content, replyChunkLimit) {
		if err := c.deliver(ctx, msg.ChatID, part); err != nil {
			return err
		}
	}
	return nil
}

// splitReply breaks a long reply into chunks at natural boundaries. A
// chunk that would cut through a code fence is either extended to the
// closing fence or ended before the fence opens.
func splitReply(content string, limit int) []string {
	var parts []string
	for len(content) > limit {
		end := chunkEnd(content, limit)
		if end <= 0 || end > len(content) {
			end = limit
		}
		parts = append(parts, content[:end])
		content = strings.TrimSpace(content[end:])
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}

func chunkEnd(content string, limit int) int {
	end := softBreak(content[:limit])

	open := unclosedFence(content[:end])
	if open < 0 {
		return end
	}
	// The whole rest fits once extended: keep it together.
	if len(content) <= limit+fenceExtension {
		return len(content)
	}
	// Otherwise extend to the closing fence if it is near enough.
	if rel := strings.Index(content[end:], "```"); rel >= 0 && end+rel+3 <= limit+fenceExtension {
		return end + rel + 3
	}
	// Give up on the fence and break before it opens.
	if before := softBreak(content[:open]); before > 0 && before < open {
		return before
	}
	if open > 0 {
		return open
	}
	return limit
}

// softBreak prefers the last newline near the end of s, then the last
// space, then the full length.
func softBreak(s string) int {
	if i := strings.LastIndexByte(s, '\n'); i > 0 && i >= len(s)-newlineSearchLen {
		return i
	}
	if i := strings.LastIndexAny(s, " \t"); i > 0 && i >= len(s)-spaceSearchLen {
		return i
	}
	return len(s)
}

// unclosedFence returns the index of the last unpaired ``` in s, or -1
// when all fences are balanced.
func unclosedFence(s string) int {
	open := -1
	for from := 0; ; {
		rel := strings.Index(s[from:], "```")
		if rel < 0 {
			return open
		}
		pos := from + rel
		if open < 0 {
			open = pos
		} else {
			open = -1
		}
		from = pos + 3
	}
}

func (c *DiscordChannel) deliver(ctx context.Context, chatID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(chatID, content)
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send discord message: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) acquireTyping(chatID string) {
	if chatID == "" {
		return
	}
	c.typingMu.Lock()
	if ref, ok := c.typing[chatID]; ok {
		ref.refs++
		c.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing[chatID] = &typingRef{refs: 1, cancel: cancel}
	c.typingMu.Unlock()

	c.notifyTyping(chatID)
	go c.refreshTyping(ctx, chatID)
}

func (c *DiscordChannel) refreshTyping(ctx context.Context, chatID string) {
	ticker := time.NewTicker(typingRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsRunning() {
				return
			}
			c.notifyTyping(chatID)
		}
	}
}

func (c *DiscordChannel) notifyTyping(chatID string) {
	if err := c.session.ChannelTyping(chatID); err != nil {
		logger.ErrorCF("discord", "Typing indicator failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) releaseTyping(chatID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	ref, ok := c.typing[chatID]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs > 0 {
		return
	}
	delete(c.typing, chatID)
	ref.cancel()
}

func (c *DiscordChannel) cancelAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for chatID, ref := range c.typing {
		ref.cancel()
		delete(c.typing, chatID)
	}
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Sender not on allow list", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	var b strings.Builder
	b.WriteString(m.Content)
	for _, att := range m.Attachments {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[attachment: %s]", att.URL)
	}
	content := b.String()
	if content == "" {
		return
	}

	c.acquireTyping(m.ChannelID)
	c.HandleMessage(m.Author.ID, m.ChannelID, content, map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
		"is_dm":      fmt.Sprintf("%t", m.GuildID == ""),
	})
}
