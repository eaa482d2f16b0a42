package locks

import (
	"context"
	"sync"
)

// KeyedMutex is a set of exclusive locks addressed by key. Waiting for a
// lock honours context cancellation. The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

// NewKeyedMutex creates an empty lock set
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	if m.slots == nil {
		m.slots = make(map[string]*slot)
	}
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.waiters++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, s, true) })
	}, nil
}

// TryLock acquires key only if it is free
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots == nil {
		m.slots = make(map[string]*slot)
	}
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
	}
	select {
	case s.ch <- struct{}{}:
	default:
		return nil, false
	}
	s.waiters++
	m.slots[key] = s

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, s, true) })
	}, true
}

func (m *KeyedMutex) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(m.slots, key)
	}
}
