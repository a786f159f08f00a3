// Package store holds the document store the topic registry persists to: one JSON document per
// topic, keyed by topic name.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when nothing was persisted under the key.
var ErrNotFound = errors.New("document not found")

// DocumentStore is a key-value store of JSON documents.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the document under key. It returns (nil, nil) when the key is absent.
func GetJSON[T any](ctx context.Context, s DocumentStore, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// SetJSON encodes v and stores it under key. A nil v removes the key.
func SetJSON(ctx context.Context, s DocumentStore, key string, v any) error {
	if v == nil {
		return s.Remove(ctx, key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if string(raw) == "null" {
		return s.Remove(ctx, key)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
