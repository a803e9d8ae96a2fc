package bus

import "time"

// InboundMessage is a transcript submission entering the session
// coordinator, whether it came from typed text, a recognized voice
// utterance, or a gateway channel.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	Content    string
	SessionKey string
	Metadata   map[string]string
}

// OutboundMessage is a reply leaving the coordinator toward whichever
// surface submitted the transcript.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}

// MessageHandler processes outbound messages for one channel.
type MessageHandler func(msg OutboundMessage) error

// FlushEvent is broadcast after pending conversation turns were
// compressed into a memory note.
type FlushEvent struct {
	At    time.Time
	Count int
}
