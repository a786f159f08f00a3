package topics

import (
	"fmt"

	"github.com/KeeprDigital/stream-keepr/go/internal/matchclock"
	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

// Action literals. Each topic accepts the subset listed in its schema.
const (
	ActionSet           = "set"
	ActionClear         = "clear"
	ActionHide          = "hide"
	ActionShow          = "show"
	ActionRotate        = "rotate"
	ActionCounterRotate = "counterRotate"
	ActionFlip          = "flip"
	ActionTurnOver      = "turnOver"
	ActionAdd           = "add"
	ActionRemove        = "remove"
	ActionClock         = "clock"
)

// Action is a validated action payload for one topic.
type Action interface {
	Topic() Topic
	Name() string
}

// CardAction drives the "card" topic.
type CardAction struct {
	Action  string           `json:"action"`
	Card    *models.CardData `json:"card,omitempty"`
	TimeOut int              `json:"timeOut,omitempty"`
}

func (a *CardAction) Topic() Topic { return TopicCard }
func (a *CardAction) Name() string { return a.Action }

func (a *CardAction) validate() error {
	if a.TimeOut < 0 {
		return &ValidationError{Topic: TopicCard, Action: a.Action, Field: "timeOut", Reason: "must not be negative"}
	}
	return nil
}

// OpCardAction drives the "opCard" topic.
type OpCardAction struct {
	Action  string             `json:"action"`
	Card    *models.OpCardData `json:"card,omitempty"`
	TimeOut int                `json:"timeOut,omitempty"`
}

func (a *OpCardAction) Topic() Topic { return TopicOpCard }
func (a *OpCardAction) Name() string { return a.Action }

func (a *OpCardAction) validate() error {
	if a.TimeOut < 0 {
		return &ValidationError{Topic: TopicOpCard, Action: a.Action, Field: "timeOut", Reason: "must not be negative"}
	}
	return nil
}

// ConfigAction drives the "config" topic.
type ConfigAction struct {
	Action string             `json:"action"`
	Config *models.ConfigData `json:"config,omitempty"`
}

func (a *ConfigAction) Topic() Topic { return TopicConfig }
func (a *ConfigAction) Name() string { return a.Action }

// EventAction drives the "event" topic.
type EventAction struct {
	Action string            `json:"action"`
	Event  *models.EventData `json:"event,omitempty"`
}

func (a *EventAction) Topic() Topic { return TopicEvent }
func (a *EventAction) Name() string { return a.Action }

// MatchesAction drives the "matches" topic. Socket actions address matches by ID; HTTP calls
// may address them by Index instead.
type MatchesAction struct {
	Action string            `json:"action"`
	ID     string            `json:"id,omitempty"`
	Match  *models.MatchData `json:"match,omitempty"`

	ClockAction matchclock.Action `json:"clockAction,omitempty"`
	Value       *int64            `json:"value,omitempty"`
	Mode        models.ClockMode  `json:"mode,omitempty"`

	Index       *int               `json:"index,omitempty"`
	TableNumber *string            `json:"tableNumber,omitempty"`
	PlayerOne   *models.PlayerData `json:"playerOne,omitempty"`
	PlayerTwo   *models.PlayerData `json:"playerTwo,omitempty"`
}

func (a *MatchesAction) Topic() Topic { return TopicMatches }
func (a *MatchesAction) Name() string { return a.Action }

// ClockCommand extracts the clock transition of a "clock" action.
func (a *MatchesAction) ClockCommand() matchclock.Command {
	return matchclock.Command{Action: a.ClockAction, Value: a.Value, Mode: a.Mode}
}

func (a *MatchesAction) validate() error {
	switch a.Action {
	case ActionClock:
		if err := a.ClockCommand().Valid(); err != nil {
			return &ValidationError{Topic: TopicMatches, Action: a.Action, Field: "clockAction", Reason: err.Error()}
		}
	case ActionSet:
		if a.Match != nil && a.Match.ID == "" {
			return &ValidationError{Topic: TopicMatches, Action: a.Action, Field: "match.id", Reason: "is required"}
		}
	}
	if a.Index != nil && *a.Index < 0 {
		return &ValidationError{Topic: TopicMatches, Action: a.Action, Field: "index", Reason: "must not be negative"}
	}
	return nil
}

// ValidationError describes why a payload was rejected.
type ValidationError struct {
	Topic  Topic
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s %s: %s %s", e.Topic, e.Action, e.Field, e.Reason)
	case e.Action != "":
		return fmt.Sprintf("%s %s: %s", e.Topic, e.Action, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Topic, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAction
}
