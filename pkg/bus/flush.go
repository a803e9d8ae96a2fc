package bus

import "sync"

// FlushBroadcaster decouples flush producers from flush-indicator
// consumers. Listeners are invoked synchronously in subscription order;
// the last published event is retained for late subscribers to query.
type FlushBroadcaster struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]func(FlushEvent)
	order   []int
	last    FlushEvent
	hasLast bool
}

func NewFlushBroadcaster() *FlushBroadcaster {
	return &FlushBroadcaster{subs: make(map[int]func(FlushEvent))}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (b *FlushBroadcaster) Subscribe(fn func(FlushEvent)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish records the event and notifies all current listeners.
func (b *FlushBroadcaster) Publish(ev FlushEvent) {
	b.mu.Lock()
	b.last = ev
	b.hasLast = true
	listeners := make([]func(FlushEvent), 0, len(b.subs))
	for _, id := range b.order {
		if fn, ok := b.subs[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// LastFlushInfo reports the most recent flush, if any happened yet.
func (b *FlushBroadcaster) LastFlushInfo() (FlushEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}
