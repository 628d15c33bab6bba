package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/outpostmail/outpost/internal/message"
)

// Memory is an in-memory Store used by tests and by the worker's dry-run
// mode. Not durable.
type Memory struct {
	mu        sync.RWMutex
	connected bool
	nextID    int64
	byRowID   map[int64]*message.Draft
}

// Ensure Memory implements the Store interface
var _ Store = (*Memory)(nil)

// NewMemory creates an in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		byRowID: make(map[int64]*message.Draft),
	}
}

// Connect marks the store connected.
func (m *Memory) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close marks the store disconnected.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns true if the store is connected.
func (m *Memory) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type returns the backend type.
func (m *Memory) Type() string {
	return "memory"
}

// SaveDraft inserts or updates the draft.
func (m *Memory) SaveDraft(ctx context.Context, draft *message.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	if draft.LocalID == "" {
		return fmt.Errorf("%w: draft has no local id", ErrInvalidInput)
	}

	if draft.DBID == 0 {
		draft.DBID = m.nextID
		m.nextID++
	} else if _, ok := m.byRowID[draft.DBID]; !ok {
		return ErrNotFound
	}

	draft.UpdatedAt = time.Now()
	stored := *draft
	m.byRowID[draft.DBID] = &stored
	return nil
}

// SetServerID records the server-assigned identifier for a draft.
func (m *Memory) SetServerID(ctx context.Context, rowID int64, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	d, ok := m.byRowID[rowID]
	if !ok {
		return ErrNotFound
	}
	d.ServerID = serverID
	d.UpdatedAt = time.Now()
	return nil
}

// FindByRowID looks a draft up by its local row identifier.
func (m *Memory) FindByRowID(ctx context.Context, rowID int64) (*message.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return nil, ErrNotConnected
	}

	d, ok := m.byRowID[rowID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *d
	return &copied, nil
}

// FindByServerID looks a draft up by its server-assigned identifier.
func (m *Memory) FindByServerID(ctx context.Context, serverID string) (*message.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return nil, ErrNotConnected
	}
	if serverID == "" {
		return nil, fmt.Errorf("%w: empty server id", ErrInvalidInput)
	}

	for _, d := range m.byRowID {
		if d.ServerID == serverID {
			copied := *d
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteDraft removes a draft by row id.
func (m *Memory) DeleteDraft(ctx context.Context, rowID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	if _, ok := m.byRowID[rowID]; !ok {
		return ErrNotFound
	}
	delete(m.byRowID, rowID)
	return nil
}
