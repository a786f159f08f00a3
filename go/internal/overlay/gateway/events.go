package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// SyncEvent carries a topic change between gateway instances sharing one document store.
type SyncEvent struct {
	Origin string          `json:"origin"`          // Instance that applied the change
	Topic  string          `json:"topic"`           // Topic name
	State  json.RawMessage `json:"state,omitempty"` // New state; empty means reload from the store
	SentAt time.Time       `json:"sent_at"`
}

// Relay fans sync events out to other gateway instances.
type Relay interface {
	// Publish sends an event to every instance, including the sender.
	Publish(ctx context.Context, event SyncEvent) error
	// Subscribe delivers events to handler until ctx is cancelled.
	Subscribe(ctx context.Context, handler func(SyncEvent)) error
	Close() error
}

// LocalRelay is an in-process relay connecting gateways that share a process, mostly for tests.
type LocalRelay struct {
	mu       sync.RWMutex
	handlers map[int]func(SyncEvent)
	next     int
}

func NewLocalRelay() *LocalRelay {
	return &LocalRelay{handlers: make(map[int]func(SyncEvent))}
}

func (r *LocalRelay) Publish(_ context.Context, event SyncEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handlers {
		h(event)
	}
	return nil
}

func (r *LocalRelay) Subscribe(ctx context.Context, handler func(SyncEvent)) error {
	r.mu.Lock()
	id := r.next
	r.next++
	r.handlers[id] = handler
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}()
	return nil
}

func (r *LocalRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.handlers)
	return nil
}
