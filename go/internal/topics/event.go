package topics

import (
	"context"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

type eventHandler struct {
	r *Registry
}

func (h *eventHandler) subscribe(ctx context.Context) (any, error) {
	ev, err := load[models.EventData](ctx, h.r, TopicEvent)
	return state(ev), err
}

func (h *eventHandler) display(ctx context.Context) (any, error) {
	return h.subscribe(ctx)
}

func (h *eventHandler) apply(ctx context.Context, action Action) (Result, error) {
	a := action.(*EventAction)

	switch a.Action {
	case ActionSet:
		if err := save(ctx, h.r, TopicEvent, a.Event); err != nil {
			return Result{}, err
		}
		return Result{State: a.Event}, nil
	case ActionClear:
		if err := save[models.EventData](ctx, h.r, TopicEvent, nil); err != nil {
			return Result{}, err
		}
	}
	return Result{}, nil
}
