// Package lease provides single-holder named leases. The service holds one
// for the whole of each training or prune job.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel kinds for lease errors.
var (
	ErrHeld     = errors.New("lease is held by another holder")
	ErrNotOwner = errors.New("lease not owned by token")
)

// Locker grants time-bounded exclusive leases by name.
type Locker interface {
	// Acquire returns a holder token or ErrHeld.
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, error)
	// Release frees the lease if token still owns it.
	Release(ctx context.Context, name, token string) error
}

type held struct {
	token   string
	expires time.Time
}

// Memory is a process-local Locker with TTL expiry.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	holds map[string]held
}

// NewMemory creates an in-process locker. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, holds: make(map[string]held)}
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.holds[name]; ok && now.Before(h.expires) {
		return "", ErrHeld
	}
	token := uuid.NewString()
	m.holds[name] = held{token: token, expires: now.Add(ttl)}
	return token, nil
}

// Release implements Locker.
func (m *Memory) Release(ctx context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[name]
	if !ok || h.token != token {
		return ErrNotOwner
	}
	delete(m.holds, name)
	return nil
}
