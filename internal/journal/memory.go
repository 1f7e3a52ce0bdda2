package journal

import (
	"context"
	"sync"
)

// Memory is a fixed-capacity in-process Store. The oldest entry is dropped when full.
type Memory struct {
	mu    sync.RWMutex
	buf   []Entry
	next  int
	count int
}

// NewMemory returns a Memory holding at most capacity entries (minimum 1).
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{buf: make([]Entry, capacity)}
}

func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = e
	m.next = (m.next + 1) % len(m.buf)
	if m.count < len(m.buf) {
		m.count++
	}
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}
