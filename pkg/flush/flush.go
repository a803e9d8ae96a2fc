// Package flush runs the periodic conversation flush cycle: a rolling
// countdown that hands accumulated exchanges to a callback and then
// rearms itself.
package flush

import (
	"sync"
	"time"

	"github.com/agentlee/agentlee/pkg/logger"
)

const defaultWindow = 60 * time.Second

// ConversationTurn is one user/agent exchange awaiting flush.
type ConversationTurn struct {
	User  string `json:"user"`
	Agent string `json:"agent"`
}

// PendingBuffer accumulates exchanges between flushes. Drain is
// atomic: the caller gets everything and the buffer is empty after.
type PendingBuffer struct {
	mu    sync.Mutex
	turns []ConversationTurn
}

// Append records one exchange.
func (b *PendingBuffer) Append(turn ConversationTurn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, turn)
}

// Len reports how many exchanges are pending.
func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Drain removes and returns all pending exchanges.
func (b *PendingBuffer) Drain() []ConversationTurn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.turns
	b.turns = nil
	return out
}

// Options configures a Timer.
type Options struct {
	// Window is the countdown length; the callback fires when it
	// elapses. Defaults to one minute.
	Window time.Duration
	// Tick controls how often the countdown is re-evaluated. Tests
	// shrink this; defaults to one second.
	Tick time.Duration
	// OnFlush runs when the window elapses or ManualSave is called.
	OnFlush func()
	Now     func() time.Time
}

// Timer is the rolling flush countdown. Exactly one flush runs at a
// time; the window restarts after each fire regardless of callback
// outcome.
type Timer struct {
	window time.Duration
	tick   time.Duration
	onFire func()
	now    func() time.Time

	mu         sync.Mutex
	deadline   time.Time
	isFlushing bool
	running    bool
	stop       chan struct{}
}

// NewTimer builds a Timer; call Start to begin counting down.
func NewTimer(opts Options) *Timer {
	t := &Timer{
		window: opts.Window,
		tick:   opts.Tick,
		onFire: opts.OnFlush,
		now:    opts.Now,
	}
	if t.window <= 0 {
		t.window = defaultWindow
	}
	if t.tick <= 0 {
		t.tick = time.Second
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Start arms the countdown. Calling Start on a running timer resets
// the window.
func (t *Timer) Start() {
	t.mu.Lock()
	t.deadline = t.now().Add(t.window)
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	go t.loop(stop)
}

// Stop halts the countdown without firing.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
}

func (t *Timer) loop(stop chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			due := t.running && !t.now().Before(t.deadline)
			t.mu.Unlock()
			if due {
				t.fire()
			}
		}
	}
}

// ManualSave flushes immediately and restarts the window.
func (t *Timer) ManualSave() {
	t.fire()
}

// fire runs the callback once, skipping re-entry while a flush is in
// flight, then rearms the window.
func (t *Timer) fire() {
	t.mu.Lock()
	if t.isFlushing {
		t.mu.Unlock()
		return
	}
	t.isFlushing = true
	t.mu.Unlock()

	t.runCallback()

	t.mu.Lock()
	t.isFlushing = false
	if t.running {
		t.deadline = t.now().Add(t.window)
	}
	t.mu.Unlock()
}

func (t *Timer) runCallback() {
	defer func() {
		if r := recover(); r != nil {
			logger.WarnCF("flush", "flush callback panicked", map[string]interface{}{
				"panic": r,
			})
		}
	}()
	if t.onFire != nil {
		t.onFire()
	}
}

// Remaining reports time left in the current window, zero when idle.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	left := t.deadline.Sub(t.now())
	if left < 0 {
		return 0
	}
	return left
}

// PercentElapsed reports window progress in [0, 100] for countdown UI.
func (t *Timer) PercentElapsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	left := t.deadline.Sub(t.now())
	if left <= 0 {
		return 100
	}
	elapsed := t.window - left
	if elapsed < 0 {
		elapsed = 0
	}
	return float64(elapsed) / float64(t.window) * 100
}
