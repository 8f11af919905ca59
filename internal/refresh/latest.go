package refresh

import (
	"sync"
	"time"
)

// Latest holds the most recent result of a repeated fetch. Every fetch takes
// a token before it starts; a result is kept only if no fetch that started
// later has already been stored.
type Latest[T any] struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
	val     T
	at      time.Time
}

// Begin returns the token for a fetch about to start.
func (l *Latest[T]) Begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued++
	return l.issued
}

// Commit stores v unless a newer fetch already landed. It reports whether v
// was kept.
func (l *Latest[T]) Commit(token uint64, v T, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token <= l.applied {
		return false
	}
	l.applied = token
	l.val = v
	l.at = at
	return true
}

// Get returns the stored value, when it was stored, and whether any value
// has been stored at all.
func (l *Latest[T]) Get() (T, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.at, l.applied > 0
}
