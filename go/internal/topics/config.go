package topics

import (
	"context"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

type configHandler struct {
	r *Registry
}

func (h *configHandler) subscribe(ctx context.Context) (any, error) {
	cfg, err := load[models.ConfigData](ctx, h.r, TopicConfig)
	return state(cfg), err
}

// display falls back to the default configuration when none is saved.
func (h *configHandler) display(ctx context.Context) (any, error) {
	cfg, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (h *configHandler) current(ctx context.Context) (models.ConfigData, error) {
	cfg, err := load[models.ConfigData](ctx, h.r, TopicConfig)
	if err != nil {
		return models.ConfigData{}, err
	}
	if cfg == nil {
		return models.DefaultConfigData(), nil
	}
	return *cfg, nil
}

func (h *configHandler) apply(ctx context.Context, action Action) (Result, error) {
	a := action.(*ConfigAction)

	switch a.Action {
	case ActionSet:
		if err := save(ctx, h.r, TopicConfig, a.Config); err != nil {
			return Result{}, err
		}
		return Result{State: a.Config}, nil
	case ActionClear:
		if err := save[models.ConfigData](ctx, h.r, TopicConfig, nil); err != nil {
			return Result{}, err
		}
	}
	return Result{}, nil
}
