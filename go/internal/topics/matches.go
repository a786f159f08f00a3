package topics

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/KeeprDigital/stream-keepr/go/internal/matchclock"
	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

var (
	ErrMatchNotFound = errors.New("Match not found")
	ErrMatchNoClock  = errors.New("Match has no clock")
)

type matchesHandler struct {
	r *Registry
}

func (h *matchesHandler) list(ctx context.Context) (models.MatchDataList, error) {
	matches, err := load[models.MatchDataList](ctx, h.r, TopicMatches)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		return models.MatchDataList{}, nil
	}
	return *matches, nil
}

func (h *matchesHandler) subscribe(ctx context.Context) (any, error) {
	return h.list(ctx)
}

func (h *matchesHandler) display(ctx context.Context) (any, error) {
	matches, err := h.list(ctx)
	if err != nil {
		return nil, err
	}
	return matches.WithDisplayPositions(), nil
}

// DisplayMatch returns the display projection of the match at index, or nil.
func (r *Registry) DisplayMatch(ctx context.Context, index int) (*models.MatchData, error) {
	matches, err := r.handlers[TopicMatches].(*matchesHandler).list(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(matches) {
		return nil, nil
	}
	m := matches.WithDisplayPositions()[index]
	return &m, nil
}

func (h *matchesHandler) apply(ctx context.Context, action Action) (Result, error) {
	a := action.(*MatchesAction)

	matches, err := h.list(ctx)
	if err != nil {
		return Result{}, err
	}

	var extra map[string]any
	switch a.Action {
	case ActionAdd:
		match, err := h.newMatch(ctx, len(matches))
		if err != nil {
			return Result{}, err
		}
		matches = append(matches, match)
		extra = map[string]any{
			"matchId":   match.ID,
			"matchName": match.Name,
			"clock":     match.Clock,
		}

	case ActionRemove:
		if i := h.resolve(matches, a); i >= 0 {
			matches = append(matches[:i], matches[i+1:]...)
		}

	case ActionSet:
		i := h.resolve(matches, a)
		if i < 0 {
			break
		}
		if a.Match != nil {
			matches[i] = *a.Match
		} else {
			matches[i].TableNumber = *a.TableNumber
			matches[i].PlayerOne = *a.PlayerOne
			matches[i].PlayerTwo = *a.PlayerTwo
		}

	case ActionClock:
		i := matches.IndexOf(a.ID)
		if i < 0 {
			return Result{}, ErrMatchNotFound
		}
		if matches[i].Clock == nil {
			return Result{}, ErrMatchNoClock
		}
		now := h.r.Now()
		if err := matchclock.Apply(matches[i].Clock, a.ClockCommand(), now); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
		}
		extra = map[string]any{"timestamp": now}
	}

	if err := save(ctx, h.r, TopicMatches, &matches); err != nil {
		return Result{}, err
	}
	return Result{State: matches, Extra: extra}, nil
}

// resolve finds the target of remove/set by index for HTTP calls, by id otherwise.
func (h *matchesHandler) resolve(matches models.MatchDataList, a *MatchesAction) int {
	if a.Index != nil {
		if *a.Index < len(matches) {
			return *a.Index
		}
		return -1
	}
	id := a.ID
	if a.Match != nil {
		id = a.Match.ID
	}
	return matches.IndexOf(id)
}

// newMatch names the match after its position and gives it a clock per the event mode: manual
// events use the configured default clock, tournament events the current round's.
func (h *matchesHandler) newMatch(ctx context.Context, count int) (models.MatchData, error) {
	match := models.NewMatch(uuid.New().String(), fmt.Sprintf("Match %d", count+1))

	cfg, err := load[models.ConfigData](ctx, h.r, TopicConfig)
	if err != nil || cfg == nil {
		return match, err
	}
	tournament := cfg.Tournament

	switch tournament.EventMode {
	case models.EventModeManual:
		mode := tournament.DefaultClockMode
		if mode == "" {
			mode = models.ClockModeCountdown
		}
		clock := models.NewMatchClock(tournament.DefaultClockDuration)
		clock.Mode = mode
		if mode == models.ClockModeCountup {
			clock.TotalDuration = models.MaxDuration
		}
		match.Clock = clock

	case models.EventModeTournament:
		ev, err := load[models.EventData](ctx, h.r, TopicEvent)
		if err != nil {
			return match, err
		}
		if ev == nil || ev.CurrentRound == "" {
			return match, nil
		}
		info := matchclock.CurrentRoundInfo(
			ev.CurrentRound,
			tournament.SwissRoundTime,
			tournament.CutRoundTime,
			tournament.SwissRounds,
			tournament.CutRounds,
		)
		match.Clock = info.ClockFor()
	}
	return match, nil
}
