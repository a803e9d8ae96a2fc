package flush

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPendingBuffer_DrainIsAtomic(t *testing.T) {
	var buf PendingBuffer
	buf.Append(ConversationTurn{User: "hi", Agent: "hello"})
	buf.Append(ConversationTurn{User: "bye", Agent: "later"})

	got := buf.Drain()
	if len(got) != 2 {
		t.Fatalf("drained %d turns, want 2", len(got))
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not empty after drain: %d", buf.Len())
	}
	if again := buf.Drain(); len(again) != 0 {
		t.Fatalf("second drain returned %d turns, want 0", len(again))
	}
}

func TestTimer_FiresAndRestarts(t *testing.T) {
	var fires int32
	tm := NewTimer(Options{
		Window: 40 * time.Millisecond,
		Tick:   5 * time.Millisecond,
		OnFlush: func() {
			atomic.AddInt32(&fires, 1)
		},
	})
	tm.Start()
	defer tm.Stop()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&fires) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timer fired %d times, want at least 2 (window should rearm)", atomic.LoadInt32(&fires))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTimer_NoOverlappingFlushes(t *testing.T) {
	var active, maxActive int32
	var mu sync.Mutex
	tm := NewTimer(Options{
		Window: 20 * time.Millisecond,
		Tick:   2 * time.Millisecond,
		OnFlush: func() {
			n := atomic.AddInt32(&active, 1)
			mu.Lock()
			if n > maxActive {
				maxActive = n
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		},
	})
	tm.Start()

	// ManualSave hammering must not stack a second flush on top of a
	// running one.
	for i := 0; i < 20; i++ {
		go tm.ManualSave()
	}
	time.Sleep(150 * time.Millisecond)
	tm.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxActive > 1 {
		t.Fatalf("%d flushes ran concurrently, want 1", maxActive)
	}
}

func TestTimer_CallbackPanicRearms(t *testing.T) {
	var fires int32
	tm := NewTimer(Options{
		Window: 25 * time.Millisecond,
		Tick:   5 * time.Millisecond,
		OnFlush: func() {
			atomic.AddInt32(&fires, 1)
			panic("storage exploded")
		},
	})
	tm.Start()
	defer tm.Stop()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&fires) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timer stopped rearming after a panicking callback (fires=%d)", atomic.LoadInt32(&fires))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTimer_RemainingAndPercent(t *testing.T) {
	base := time.Unix(1000, 0)
	var offset atomic.Int64
	now := func() time.Time { return base.Add(time.Duration(offset.Load())) }
	tm := NewTimer(Options{
		Window: time.Minute,
		Now:    now,
	})
	if tm.Remaining() != 0 {
		t.Fatalf("idle timer reports remaining time")
	}

	tm.Start()
	defer tm.Stop()
	if got := tm.Remaining(); got != time.Minute {
		t.Fatalf("remaining = %v, want 1m", got)
	}

	offset.Store(int64(45 * time.Second))
	if got := tm.Remaining(); got != 15*time.Second {
		t.Fatalf("remaining = %v, want 15s", got)
	}
	if got := tm.PercentElapsed(); got != 75 {
		t.Fatalf("percent = %v, want 75", got)
	}
}
