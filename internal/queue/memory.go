package queue

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used by tests and as a scratch backend.
// It honors the same single-writer Mutate discipline as the durable drivers.
type Memory struct {
	mu    sync.Mutex
	posts []Post
}

func NewMemory(initial ...Post) *Memory {
	m := &Memory{}
	m.posts = append(m.posts, initial...)
	return m
}

func (m *Memory) List(ctx context.Context) ([]Post, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Post, len(m.posts))
	copy(out, m.posts)
	return out, nil
}

func (m *Memory) Mutate(ctx context.Context, fn func(posts []Post) ([]Post, error)) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := make([]Post, len(m.posts))
	copy(cur, m.posts)
	next, err := fn(cur)
	if err != nil {
		return err
	}
	m.posts = next
	return nil
}

func (m *Memory) Close() error { return nil }
