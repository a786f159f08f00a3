package topics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/store"
)

// Result is the outcome of an applied action. State is the topic's new state (nil when the topic
// is empty); Extra is merged into the success acknowledgement.
type Result struct {
	State any
	Extra map[string]any
}

// Update is a state change produced outside of a client action, published to every subscriber.
type Update struct {
	Topic Topic
	State any
}

// Deferred is work a handler schedules for later. It reports whether an update should be
// published.
type Deferred func(ctx context.Context) (Update, bool)

// Dispatch hands deferred work to whoever serializes topic mutations.
type Dispatch func(Deferred)

type handler interface {
	subscribe(ctx context.Context) (any, error)
	apply(ctx context.Context, action Action) (Result, error)
	display(ctx context.Context) (any, error)
}

// Registry maps each topic to its handler. It is not safe for concurrent use; callers serialize
// every call (the gateway dispatcher does).
type Registry struct {
	handlers map[Topic]handler
	store    store.DocumentStore
	clock    clockwork.Clock
	timers   *showTimers
}

// NewRegistry builds the registry over a document store. Deferred work (card auto-hide) is
// handed to dispatch; a nil dispatch runs it inline on the timer goroutine.
func NewRegistry(s store.DocumentStore, clock clockwork.Clock, dispatch Dispatch) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if dispatch == nil {
		dispatch = runInline
	}

	r := &Registry{
		store:  s,
		clock:  clock,
		timers: newShowTimers(clock, dispatch),
	}
	r.handlers = map[Topic]handler{
		TopicCard:    &cardHandler{r: r},
		TopicOpCard:  &opCardHandler{r: r},
		TopicConfig:  &configHandler{r: r},
		TopicEvent:   &eventHandler{r: r},
		TopicMatches: &matchesHandler{r: r},
		TopicTime:    timeHandler{r: r},
	}
	return r
}

func runInline(d Deferred) {
	if u, ok := d(context.Background()); ok {
		log.Debug().Str("topic", string(u.Topic)).Msg("deferred update applied without a dispatcher")
	}
}

// Now is the registry clock in unix milliseconds.
func (r *Registry) Now() int64 {
	return r.clock.Now().UnixMilli()
}

// Subscribe returns the current state of a topic.
func (r *Registry) Subscribe(ctx context.Context, topic Topic) (any, error) {
	h, err := r.handler(topic)
	if err != nil {
		return nil, err
	}
	return h.subscribe(ctx)
}

// Apply validates a socket action payload and applies it.
func (r *Registry) Apply(ctx context.Context, topic Topic, payload json.RawMessage) (Result, error) {
	h, err := r.handler(topic)
	if err != nil {
		return Result{}, err
	}
	action, err := Validate(topic, payload)
	if err != nil {
		return Result{}, err
	}
	return r.run(ctx, h, action)
}

// APICall validates an HTTP-triggered action and applies it.
func (r *Registry) APICall(ctx context.Context, topic Topic, action string, body json.RawMessage) (Result, error) {
	h, err := r.handler(topic)
	if err != nil {
		return Result{}, err
	}
	act, err := ValidateAPICall(topic, action, body)
	if err != nil {
		return Result{}, err
	}
	return r.run(ctx, h, act)
}

// Display returns the read projection served over HTTP.
func (r *Registry) Display(ctx context.Context, topic Topic) (any, error) {
	h, err := r.handler(topic)
	if err != nil {
		return nil, err
	}
	return h.display(ctx)
}

// Close cancels pending auto-hide timers.
func (r *Registry) Close() {
	r.timers.stop()
}

func (r *Registry) handler(topic Topic) (handler, error) {
	h, ok := r.handlers[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return h, nil
}

func (r *Registry) run(ctx context.Context, h handler, action Action) (Result, error) {
	res, err := h.apply(ctx, action)
	if err != nil {
		return Result{}, err
	}
	log.Debug().
		Str("topic", string(action.Topic())).
		Str("action", action.Name()).
		Msg("topic action applied")
	return res, nil
}

// load decodes the stored document of a topic.
func load[T any](ctx context.Context, r *Registry, topic Topic) (*T, error) {
	v, err := store.GetJSON[T](ctx, r.store, topic.Key())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", topic, err)
	}
	return v, nil
}

// save persists a document, removing the key when v is nil.
func save[T any](ctx context.Context, r *Registry, topic Topic, v *T) error {
	if v == nil {
		if err := r.store.Remove(ctx, topic.Key()); err != nil {
			return fmt.Errorf("remove %s: %w", topic, err)
		}
		return nil
	}
	if err := store.SetJSON(ctx, r.store, topic.Key(), v); err != nil {
		return fmt.Errorf("save %s: %w", topic, err)
	}
	return nil
}

// state converts a possibly nil document pointer into a result state, keeping nil untyped so
// it encodes as JSON null.
func state[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}

// timeHandler backs the stateless "time" topic.
type timeHandler struct {
	r *Registry
}

func (h timeHandler) subscribe(context.Context) (any, error) {
	now := h.r.clock.Now()
	return map[string]any{"timestamp": now.UnixMilli(), "iso": now.UTC().Format("2006-01-02T15:04:05.000Z07:00")}, nil
}

func (h timeHandler) apply(_ context.Context, action Action) (Result, error) {
	return Result{}, &ValidationError{Topic: TopicTime, Action: action.Name(), Reason: "accepts no actions"}
}

func (h timeHandler) display(ctx context.Context) (any, error) {
	return h.subscribe(ctx)
}
