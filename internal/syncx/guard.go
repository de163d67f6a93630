// Package syncx provides small synchronization helpers.
package syncx

import "sync"

// Guard holds a value behind an RWMutex.
type Guard[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// NewGuard creates an empty guard.
func NewGuard[T any]() *Guard[T] {
	return &Guard[T]{}
}

// Load returns the value and whether one was ever stored.
func (g *Guard[T]) Load() (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value, g.set
}

// Store replaces the value.
func (g *Guard[T]) Store(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
	g.set = true
}

// Swap replaces the value and returns the previous one.
func (g *Guard[T]) Swap(v T) (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old, had := g.value, g.set
	g.value = v
	g.set = true
	return old, had
}
