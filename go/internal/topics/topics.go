// Package topics owns the overlay's topic state: the action vocabulary of each topic, the
// validator shared by the client and the gateway, and the registry of handlers that apply actions
// to the document store.
package topics

import (
	"errors"
	"fmt"
)

// Topic names an independent piece of overlay state.
type Topic string

const (
	TopicCard    Topic = "card"
	TopicOpCard  Topic = "opCard"
	TopicConfig  Topic = "config"
	TopicEvent   Topic = "event"
	TopicMatches Topic = "matches"
	TopicTime    Topic = "time"
)

var (
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrInvalidAction = errors.New("invalid action")
)

// All lists every topic in a stable order.
var All = []Topic{TopicCard, TopicOpCard, TopicConfig, TopicEvent, TopicMatches, TopicTime}

// ParseTopic validates a topic name.
func ParseTopic(s string) (Topic, error) {
	for _, t := range All {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTopic, s)
}

// Stateful reports whether the topic has a persisted document.
func (t Topic) Stateful() bool {
	return t != TopicTime
}

// Key is the document store key of the topic.
func (t Topic) Key() string {
	return string(t)
}
