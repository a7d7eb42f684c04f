// Package lock provides exclusive-access tokens keyed by transaction id.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by Acquire when another holder owns the key.
var ErrLocked = fmt.Errorf("lock is held")

// Lease is an acquired lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Memory is an in-process Locker. Expired entries are taken over by the next
// Acquire.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return nil, fmt.Errorf("acquiring %s: %w", key, ErrLocked)
	}
	token := newToken()
	m.entries[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{m: m, key: key, token: token}, nil
}

type memoryLease struct {
	m     *Memory
	key   string
	token string
}

func (l *memoryLease) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if e, ok := l.m.entries[l.key]; ok && e.token == l.token {
		delete(l.m.entries, l.key)
	}
	return nil
}

func newToken() string {
	return uuid.NewString()
}
