// Package kvstore provides the durable key-value persistence boundary.
// The contract mirrors synchronous browser-local storage: string keys,
// string values, last-write-wins, and writes that may fail on quota
// exhaustion without the caller crashing.
package kvstore

import (
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned when a backend refuses a write for
// capacity reasons. Callers must tolerate it; in-memory state stays
// authoritative even when the durable copy falls behind.
var ErrQuotaExceeded = errors.New("kvstore: storage quota exceeded")

// KV is the synchronous getItem/setItem persistence seam.
type KV interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string)
	Close() error
}

// MemKV is an in-memory KV used for tests and as a degraded fallback
// when no durable backend is available. Quota, when set, caps the total
// stored bytes so quota-exhaustion paths can be exercised.
type MemKV struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
}

func NewMemKV() *MemKV {
	return &MemKV{data: map[string]string{}}
}

// NewMemKVWithQuota creates a MemKV that rejects writes once total
// stored bytes would exceed quota.
func NewMemKVWithQuota(quota int) *MemKV {
	return &MemKV{data: map[string]string{}, quota: quota}
}

func (m *MemKV) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemKV) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		total := len(value)
		for k, v := range m.data {
			if k == key {
				continue
			}
			total += len(v)
		}
		if total > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

func (m *MemKV) RemoveItem(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *MemKV) Close() error { return nil }
