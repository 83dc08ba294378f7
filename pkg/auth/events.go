package auth

import (
	"sync"

	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

// listeners is a registry of callbacks keyed by a monotonically increasing
// handle so that unsubscribing is O(1) and never disturbs other listeners.
type listeners[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = map[int]func(T){}
	}
	id := l.next
	l.next++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// fire invokes every registered callback synchronously, in registration
// order not guaranteed. Callbacks must not block.
func (l *listeners[T]) fire(event T) {
	l.mu.RLock()
	snapshot := make([]func(T), 0, len(l.subs))
	for _, fn := range l.subs {
		snapshot = append(snapshot, fn)
	}
	l.mu.RUnlock()
	for _, fn := range snapshot {
		fn(event)
	}
}

// events aggregates the four notification channels the manager exposes.
type events struct {
	activeChanged listeners[types.Connection]
	stateChanged  listeners[types.StateChange]
	updated       listeners[types.Connection]
	deleted       listeners[types.Deletion]
}
