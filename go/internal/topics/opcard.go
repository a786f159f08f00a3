package topics

import (
	"context"
	"time"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

type opCardHandler struct {
	r *Registry
}

func (h *opCardHandler) subscribe(ctx context.Context) (any, error) {
	card, err := load[models.OpCardData](ctx, h.r, TopicOpCard)
	return state(card), err
}

func (h *opCardHandler) display(ctx context.Context) (any, error) {
	card, err := load[models.OpCardData](ctx, h.r, TopicOpCard)
	if err != nil {
		return nil, err
	}
	if card == nil {
		empty := models.DefaultOpCardData()
		return &empty, nil
	}
	return card, nil
}

func (h *opCardHandler) apply(ctx context.Context, action Action) (Result, error) {
	a := action.(*OpCardAction)

	switch a.Action {
	case ActionSet:
		if err := save(ctx, h.r, TopicOpCard, a.Card); err != nil {
			return Result{}, err
		}
		h.r.timers.cancel(TopicOpCard)
		return Result{State: a.Card}, nil
	case ActionClear:
		if err := save[models.OpCardData](ctx, h.r, TopicOpCard, nil); err != nil {
			return Result{}, err
		}
		h.r.timers.cancel(TopicOpCard)
		return Result{}, nil
	}

	card, err := load[models.OpCardData](ctx, h.r, TopicOpCard)
	if err != nil || card == nil {
		return Result{}, err
	}

	switch a.Action {
	case ActionHide:
		card.DisplayData.Hidden = true
		card.DisplayData.ShowTimeout.Clear()
		h.r.timers.cancel(TopicOpCard)
	case ActionShow:
		card.DisplayData.Hidden = false
		card.DisplayData.ShowTimeout = showStamp(h.r, a.TimeOut)
		h.scheduleHide(card.Name, a.TimeOut, card.DisplayData.ShowTimeout)
	}

	if err := save(ctx, h.r, TopicOpCard, card); err != nil {
		return Result{}, err
	}
	return Result{State: card}, nil
}

func (h *opCardHandler) scheduleHide(name string, timeOutSeconds int, stamp models.ShowTimeout) {
	if stamp.TimeoutStartTimestamp == nil {
		h.r.timers.cancel(TopicOpCard)
		return
	}

	h.r.timers.schedule(TopicOpCard, time.Duration(timeOutSeconds)*time.Second, hideAfter(h.r, TopicOpCard,
		func(c *models.OpCardData) bool {
			return c.Name == name && !c.DisplayData.Hidden && c.DisplayData.ShowTimeout.Matches(stamp)
		},
		func(c *models.OpCardData) {
			c.DisplayData.Hidden = true
			c.DisplayData.ShowTimeout.Clear()
		},
	))
}
