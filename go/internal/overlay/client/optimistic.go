package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// Options configures an optimistic action. S is the local state the action mutates, R whatever
// the local mutation wants to hand to the success and rollback paths.
type Options[S, R any] struct {
	// ConsumerID owns the operation; CancelPendingOperations discards by owner.
	ConsumerID string
	// InitialState is snapshotted before Action runs.
	InitialState S
	// Action applies the change locally.
	Action func(state S) R
	// OnSuccess runs after a success ack.
	OnSuccess func(ack protocol.Ack, result R)
	// OnError runs before Rollback with the failure and the snapshot.
	OnError func(err error, snapshot S)
	// Rollback restores local state after a failure.
	Rollback func(snapshot S, result R)
	// Timeout overrides the client's ack timeout.
	Timeout time.Duration
}

// OptimisticEmit applies an action locally, sends it, and rolls the local change back when the
// gateway rejects it, the ack times out or the client is disconnected. Rollback runs at most once
// and never for an operation discarded by CancelPendingOperations.
func OptimisticEmit[S, R any](ctx context.Context, c *Client, topic topics.Topic, payload any, opts Options[S, R]) (protocol.Ack, error) {
	snapshot, err := deepCopy(opts.InitialState)
	if err != nil {
		return protocol.Ack{}, fmt.Errorf("snapshot %s state: %w", topic, err)
	}

	var result R
	if opts.Action != nil {
		result = opts.Action(opts.InitialState)
	}

	opID := c.trackOperation(opts.ConsumerID)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.AckTimeout
	}
	ack, err := c.EmitTimeout(ctx, topic, payload, timeout)

	if !c.finishOperation(opID) {
		// discarded while in flight
		return ack, err
	}

	if err != nil {
		if opts.OnError != nil {
			opts.OnError(err, snapshot)
		}
		if opts.Rollback != nil {
			opts.Rollback(snapshot, result)
		}
		return ack, err
	}

	if opts.OnSuccess != nil {
		opts.OnSuccess(ack, result)
	}
	return ack, nil
}

// CancelPendingOperations discards the in-flight optimistic operations of consumerID without
// rolling them back. Consumers tear down with it; other consumers' operations are untouched.
// It returns how many were discarded.
func (c *Client) CancelPendingOperations(consumerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, owner := range c.operations {
		if owner == consumerID {
			delete(c.operations, id)
			n++
		}
	}
	return n
}

// PendingOperations is the number of optimistic operations in flight across all consumers.
func (c *Client) PendingOperations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.operations)
}

func (c *Client) trackOperation(consumerID string) string {
	id := ulid.Make().String()
	c.mu.Lock()
	c.operations[id] = consumerID
	c.mu.Unlock()
	return id
}

// finishOperation removes the operation, reporting whether it was still pending.
func (c *Client) finishOperation(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.operations[id]; !ok {
		return false
	}
	delete(c.operations, id)
	return true
}

// deepCopy snapshots v through a JSON round trip.
func deepCopy[T any](v T) (T, error) {
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}
