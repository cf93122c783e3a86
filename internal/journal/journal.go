// Package journal records completed invocations, in memory or in Postgres.
package journal

import (
	"context"
	"sync"
	"time"
)

const DefaultMemoryCapacity = 200

// Entry is one completed invocation.
type Entry struct {
	ID           string        `json:"id"`
	Command      string        `json:"command"`
	NodeID       string        `json:"nodeId,omitempty"`
	Legacy       bool          `json:"legacy"`
	OK           bool          `json:"ok"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	ReceivedAt   time.Time     `json:"receivedAt"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"durationMs"`
}

type Journal interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Memory keeps the most recent entries in a ring.
type Memory struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	full     bool
	capacity int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{entries: make([]Entry, capacity), capacity: capacity}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = e
	m.next = (m.next + 1) % m.capacity
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = m.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + m.capacity) % m.capacity
		out = append(out, m.entries[idx])
	}
	return out, nil
}
