package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	status    Status
	updatedAt time.Time
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	config  Config
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(cfg Config) *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]memoryEntry), config: cfg}
}

// Claim implements Ledger.
func (l *MemoryLedger) Claim(_ context.Context, key string, now time.Time) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		switch {
		case e.status == StatusRecoverable:
		case e.status == StatusStarted && now.Sub(e.updatedAt) > l.config.RecoveryTimeout:
		default:
			return e.status, nil
		}
	}
	l.entries[key] = memoryEntry{status: StatusStarted, updatedAt: now}
	return "", nil
}

// Settle implements Ledger.
func (l *MemoryLedger) Settle(_ context.Context, key string, status Status, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = memoryEntry{status: status, updatedAt: now}
	return nil
}

// Purge implements Ledger.
func (l *MemoryLedger) Purge(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for k, e := range l.entries {
		if e.status != StatusStarted && now.Sub(e.updatedAt) > l.config.TTL {
			delete(l.entries, k)
			n++
		}
	}
	return n, nil
}
