package topics

import (
	"context"
	"time"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

type cardHandler struct {
	r *Registry
}

func (h *cardHandler) subscribe(ctx context.Context) (any, error) {
	card, err := load[models.CardData](ctx, h.r, TopicCard)
	return state(card), err
}

func (h *cardHandler) display(ctx context.Context) (any, error) {
	card, err := load[models.CardData](ctx, h.r, TopicCard)
	if err != nil {
		return nil, err
	}
	return card.ImageSlots(""), nil
}

func (h *cardHandler) apply(ctx context.Context, action Action) (Result, error) {
	a := action.(*CardAction)

	switch a.Action {
	case ActionSet:
		if err := save(ctx, h.r, TopicCard, a.Card); err != nil {
			return Result{}, err
		}
		h.r.timers.cancel(TopicCard)
		return Result{State: a.Card}, nil
	case ActionClear:
		if err := save[models.CardData](ctx, h.r, TopicCard, nil); err != nil {
			return Result{}, err
		}
		h.r.timers.cancel(TopicCard)
		return Result{}, nil
	}

	card, err := load[models.CardData](ctx, h.r, TopicCard)
	if err != nil || card == nil {
		return Result{}, err
	}

	display := &card.DisplayData
	switch a.Action {
	case ActionHide:
		display.Hidden = true
		display.ShowTimeout.Clear()
		h.r.timers.cancel(TopicCard)
	case ActionShow:
		display.Hidden = false
		display.ShowTimeout = h.scheduleHide(card.Name, a.TimeOut)
	case ActionFlip:
		display.Flipped = !display.Flipped
	case ActionRotate:
		display.Rotated = !display.Rotated
	case ActionCounterRotate:
		display.CounterRotated = !display.CounterRotated
	case ActionTurnOver:
		display.TurnedOver = !display.TurnedOver
	}

	if err := save(ctx, h.r, TopicCard, card); err != nil {
		return Result{}, err
	}
	return Result{State: card}, nil
}

func (h *cardHandler) scheduleHide(name string, timeOutSeconds int) models.ShowTimeout {
	stamp := showStamp(h.r, timeOutSeconds)
	if stamp.TimeoutStartTimestamp == nil {
		h.r.timers.cancel(TopicCard)
		return stamp
	}

	h.r.timers.schedule(TopicCard, time.Duration(timeOutSeconds)*time.Second, hideAfter(h.r, TopicCard,
		func(c *models.CardData) bool {
			return c.Name == name && !c.DisplayData.Hidden && c.DisplayData.ShowTimeout.Matches(stamp)
		},
		func(c *models.CardData) {
			c.DisplayData.Hidden = true
			c.DisplayData.ShowTimeout.Clear()
		},
	))
	return stamp
}

// showStamp builds the timeout stamp for a show; a non-positive timeout leaves it empty.
func showStamp(r *Registry, timeOutSeconds int) models.ShowTimeout {
	if timeOutSeconds <= 0 {
		return models.ShowTimeout{}
	}
	start := r.Now()
	duration := int64(timeOutSeconds) * 1000
	return models.ShowTimeout{TimeoutStartTimestamp: &start, TimeoutDuration: &duration}
}
