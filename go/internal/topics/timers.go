package topics

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// showTimers holds at most one pending auto-hide per topic.
type showTimers struct {
	clock    clockwork.Clock
	dispatch Dispatch

	mu     sync.Mutex
	active map[Topic]clockwork.Timer
}

func newShowTimers(clock clockwork.Clock, dispatch Dispatch) *showTimers {
	return &showTimers{
		clock:    clock,
		dispatch: dispatch,
		active:   make(map[Topic]clockwork.Timer),
	}
}

// schedule replaces any pending timer for the topic. When it fires, task is handed to dispatch.
func (s *showTimers) schedule(topic Topic, after time.Duration, task Deferred) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[topic]; ok {
		existing.Stop()
		log.Debug().Str("topic", string(topic)).Msg("replaced pending auto-hide")
	}

	var timer clockwork.Timer
	timer = s.clock.AfterFunc(after, func() {
		s.mu.Lock()
		if s.active[topic] == timer {
			delete(s.active, topic)
		}
		s.mu.Unlock()
		s.dispatch(task)
	})
	s.active[topic] = timer

	log.Debug().
		Str("topic", string(topic)).
		Dur("after", after).
		Msg("scheduled auto-hide")
}

func (s *showTimers) cancel(topic Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.active[topic]; ok {
		timer.Stop()
		delete(s.active, topic)
	}
}

func (s *showTimers) pending(topic Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[topic]
	return ok
}

func (s *showTimers) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, timer := range s.active {
		timer.Stop()
		delete(s.active, topic)
	}
}

// hideAfter is the auto-hide task shared by card topics: it applies only if the stored card is
// the one that was shown, is still visible and carries the same timeout stamp.
func hideAfter[T any](r *Registry, topic Topic, stillShown func(*T) bool, hide func(*T)) Deferred {
	return func(ctx context.Context) (Update, bool) {
		current, err := load[T](ctx, r, topic)
		if err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("auto-hide load failed")
			return Update{}, false
		}
		if current == nil || !stillShown(current) {
			return Update{}, false
		}

		hide(current)
		if err := save(ctx, r, topic, current); err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("auto-hide save failed")
			return Update{}, false
		}
		log.Info().Str("topic", string(topic)).Msg("card auto-hidden")
		return Update{Topic: topic, State: current}, true
	}
}
