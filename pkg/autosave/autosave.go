// Package autosave persists periodic snapshots of assistant state so a
// restarted process can restore where the user left off.
package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/agentlee/agentlee/pkg/kvstore"
	"github.com/agentlee/agentlee/pkg/logger"
)

const defaultStorageKey = "agentlee.autosave"

// SavedPayload is the versioned snapshot envelope.
type SavedPayload struct {
	Kind      string          `json:"kind"`
	Scope     string          `json:"scope"`
	Feature   string          `json:"feature"`
	Payload   json.RawMessage `json:"payload"`
	SavedAtMS int64           `json:"savedAtMs"`
}

// BuildSnapshot wraps a payload in the standard envelope. Pure; the
// caller decides when to persist it.
func BuildSnapshot(kind, scope, feature string, payload interface{}) (SavedPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SavedPayload{}, err
	}
	return SavedPayload{
		Kind:      kind,
		Scope:     scope,
		Feature:   feature,
		Payload:   raw,
		SavedAtMS: time.Now().UnixMilli(),
	}, nil
}

// Options configures a Writer. Zero values fall back to defaults.
type Options struct {
	StorageKey string
	// Debounce is how long Touch waits for further touches before
	// collecting and writing a snapshot.
	Debounce time.Duration
	// Collect produces the current snapshot payload on demand.
	Collect func() (SavedPayload, error)
	Now     func() time.Time
}

// Writer persists snapshots to a key-value backend, coalescing rapid
// Touch calls into a single write.
type Writer struct {
	backend kvstore.KV
	key     string
	debounce time.Duration
	collect func() (SavedPayload, error)
	now     func() time.Time

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// NewWriter creates a snapshot writer over backend.
func NewWriter(backend kvstore.KV, opts Options) *Writer {
	w := &Writer{
		backend:  backend,
		key:      opts.StorageKey,
		debounce: opts.Debounce,
		collect:  opts.Collect,
		now:      opts.Now,
	}
	if w.key == "" {
		w.key = defaultStorageKey
	}
	if w.debounce <= 0 {
		w.debounce = 800 * time.Millisecond
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// SetCollector installs or replaces the snapshot collector. Useful
// when the collector closes over state built after the writer.
func (w *Writer) SetCollector(collect func() (SavedPayload, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.collect = collect
}

// Touch schedules a debounced snapshot write. Calls within the
// debounce window coalesce into one write.
func (w *Writer) Touch() {
	w.TouchAfter(0)
}

// TouchAfter is Touch with an explicit debounce interval, for sources
// that save on a different cadence than results. A non-positive
// interval uses the writer's default.
func (w *Writer) TouchAfter(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	if d <= 0 {
		d = w.debounce
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d, func() {
		w.Flush()
	})
}

// Flush writes a snapshot immediately, cancelling any pending touch.
func (w *Writer) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	done := w.done
	collect := w.collect
	w.mu.Unlock()
	if done || collect == nil {
		return
	}

	snap, err := collect()
	if err != nil {
		logger.WarnCF("autosave", "snapshot collect failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	w.write(snap)
}

// Snapshot persists an explicit payload, bypassing the collector.
func (w *Writer) Snapshot(snap SavedPayload) {
	w.write(snap)
}

func (w *Writer) write(snap SavedPayload) {
	raw, err := json.Marshal(snap)
	if err != nil {
		logger.WarnCF("autosave", "snapshot marshal failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := w.backend.SetItem(w.key, string(raw)); err != nil {
		// Storage pressure never surfaces to the conversation.
		logger.DebugCF("autosave", "snapshot write failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	logger.DebugCF("autosave", "snapshot written", map[string]interface{}{
		"kind":    snap.Kind,
		"feature": snap.Feature,
	})
}

// Restore loads the last snapshot, nil when absent or unreadable.
func (w *Writer) Restore() *SavedPayload {
	raw, ok := w.backend.GetItem(w.key)
	if !ok || raw == "" {
		return nil
	}
	var snap SavedPayload
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		logger.WarnCF("autosave", "ignoring corrupt snapshot", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return &snap
}

// Close stops any pending debounced write.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// RunSchedule flushes a snapshot on the given cron cadence until ctx
// is cancelled. An invalid expression is logged and disables the
// schedule rather than failing startup.
func (w *Writer) RunSchedule(ctx context.Context, cronExpr string) {
	gron := gronx.New()
	if !gron.IsValid(cronExpr) {
		logger.WarnCF("autosave", "invalid autosave cron expression", map[string]interface{}{
			"cron": cronExpr,
		})
		return
	}
	logger.InfoCF("autosave", "autosave schedule active", map[string]interface{}{
		"cron": cronExpr,
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(cronExpr, now)
			if err != nil || !due {
				continue
			}
			w.Flush()
		}
	}
}

// AttachNetworkListener flushes whenever connectivity returns, so a
// reconnect never races a stale snapshot. The returned func detaches.
func (w *Writer) AttachNetworkListener(online <-chan bool) func() {
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case up, ok := <-online:
				if !ok {
					return
				}
				if up {
					w.Flush()
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
