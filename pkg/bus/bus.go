package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCapacity = 100
	// publishTimeout bounds how long a publisher blocks on a full
	// queue before the message is counted as dropped.
	publishTimeout = 100 * time.Millisecond
)

// MessageBus carries transcripts from gateway channels to the session
// coordinator and replies back out. Both directions are bounded; a
// slow consumer causes drops, never an unbounded backlog.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	closed   bool

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithCapacity(defaultCapacity)
}

func NewMessageBusWithCapacity(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, capacity),
		outbound: make(chan OutboundMessage, capacity),
		handlers: make(map[string]MessageHandler),
	}
}

// PublishInbound queues a transcript submission. Publishing to a
// closed bus is a no-op.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if !sendWithin(mb.inbound, msg, publishTimeout) {
		mb.droppedIn.Add(1)
	}
}

// ConsumeInbound blocks until a submission arrives, the bus closes, or
// ctx is done. The second return is false when no message was read.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return receive(ctx, mb.inbound)
}

// PublishOutbound queues a coordinator reply for channel delivery.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if !sendWithin(mb.outbound, msg, publishTimeout) {
		mb.droppedOut.Add(1)
	}
}

// SubscribeOutbound blocks until a reply is available, the bus closes,
// or ctx is done.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return receive(ctx, mb.outbound)
}

// RegisterHandler binds a delivery handler to a channel name. A later
// registration for the same name replaces the earlier one.
func (mb *MessageBus) RegisterHandler(channel string, handler MessageHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[channel] = handler
}

func (mb *MessageBus) GetHandler(channel string) (MessageHandler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.handlers[channel]
	return handler, ok
}

// Close shuts both queues. Close is idempotent.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

// DroppedInbound reports submissions lost to backpressure.
func (mb *MessageBus) DroppedInbound() uint64 { return mb.droppedIn.Load() }

// DroppedOutbound reports replies lost to backpressure.
func (mb *MessageBus) DroppedOutbound() uint64 { return mb.droppedOut.Load() }

func sendWithin[T any](ch chan T, msg T, timeout time.Duration) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func receive[T any](ctx context.Context, ch chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}
