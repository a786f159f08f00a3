// Package matchclock implements the match clock state machine shared by the server handlers and
// the client optimistic path. Every transition takes the synced "now" in unix milliseconds.
package matchclock

import (
	"errors"
	"fmt"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

// Action is a clock transition.
type Action string

const (
	ActionStart   Action = "start"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionReset   Action = "reset"
	ActionSet     Action = "set"
	ActionAdjust  Action = "adjust"
	ActionSetMode Action = "setMode"
)

// Actions lists every accepted clock transition.
var Actions = []Action{ActionStart, ActionPause, ActionResume, ActionReset, ActionSet, ActionAdjust, ActionSetMode}

// ErrUnknownAction is returned for a transition outside Actions.
var ErrUnknownAction = errors.New("unknown clock action")

// Command is one requested transition with its optional argument.
type Command struct {
	Action Action           `json:"action"`
	Value  *int64           `json:"value,omitempty"`
	Mode   models.ClockMode `json:"mode,omitempty"`
}

// Valid reports whether the action is known and carries the argument it needs.
func (c Command) Valid() error {
	switch c.Action {
	case ActionStart, ActionPause, ActionResume, ActionReset:
		return nil
	case ActionSet, ActionAdjust:
		if c.Value == nil {
			return fmt.Errorf("clock action %q requires a value", c.Action)
		}
		return nil
	case ActionSetMode:
		if c.Mode != models.ClockModeCountdown && c.Mode != models.ClockModeCountup {
			return fmt.Errorf("clock action %q requires mode countdown or countup", c.Action)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
}

// Apply mutates the clock in place. Transitions that do not apply (set with a non-positive value,
// setMode while running) leave the clock untouched.
func Apply(clock *models.MatchClock, cmd Command, now int64) error {
	if err := cmd.Valid(); err != nil {
		return err
	}

	switch cmd.Action {
	case ActionStart:
		clock.StartTime = ptr(now)
		clock.ElapsedTime = 0
		clock.Running = true

	case ActionPause:
		flush(clock, now)
		clock.StartTime = nil
		clock.Running = false

	case ActionResume:
		clock.StartTime = ptr(now)
		clock.Running = true

	case ActionReset:
		clock.StartTime = nil
		clock.ElapsedTime = 0
		clock.Running = false

	case ActionSet:
		if *cmd.Value <= 0 {
			return nil
		}
		if clock.Mode == models.ClockModeCountdown {
			clock.TotalDuration = *cmd.Value
		}
		clock.Running = false
		clock.StartTime = nil
		clock.ElapsedTime = 0

	case ActionAdjust:
		flush(clock, now)
		delta := *cmd.Value
		if clock.Mode == models.ClockModeCountup {
			clock.ElapsedTime = max(0, clock.ElapsedTime+delta)
			return nil
		}
		if delta > 0 {
			clock.TotalDuration += delta
			return nil
		}
		floor := max(CurrentElapsed(clock, now), 0)
		clock.TotalDuration = max(floor, clock.TotalDuration+delta)

	case ActionSetMode:
		if clock.Running {
			return nil
		}
		clock.Mode = cmd.Mode
		clock.StartTime = nil
		clock.ElapsedTime = 0
		if cmd.Mode == models.ClockModeCountup {
			clock.TotalDuration = models.MaxDuration
		} else {
			clock.TotalDuration = clock.InitialDuration
		}
	}
	return nil
}

// flush folds the running interval into ElapsedTime and restarts the interval at now.
func flush(clock *models.MatchClock, now int64) {
	if clock.Running && clock.StartTime != nil {
		clock.ElapsedTime += now - *clock.StartTime
		clock.StartTime = ptr(now)
	}
}

// CurrentElapsed is the accumulated elapsed time plus the running interval.
func CurrentElapsed(clock *models.MatchClock, now int64) int64 {
	elapsed := clock.ElapsedTime
	if clock.Running && clock.StartTime != nil {
		elapsed += now - *clock.StartTime
	}
	return elapsed
}

// Remaining is the time left before TotalDuration, never negative.
func Remaining(clock *models.MatchClock, now int64) int64 {
	return max(0, clock.TotalDuration-CurrentElapsed(clock, now))
}

// IsExpired reports whether a countdown clock has run out.
func IsExpired(clock *models.MatchClock, now int64) bool {
	return clock.Mode == models.ClockModeCountdown && Remaining(clock, now) <= 0
}

// DisplayTime is what the overlay shows: elapsed for countup, remaining for countdown.
func DisplayTime(clock *models.MatchClock, now int64) int64 {
	if clock.Mode == models.ClockModeCountup {
		return CurrentElapsed(clock, now)
	}
	return Remaining(clock, now)
}

// Progress is the percentage of a countdown consumed, 0 for countup clocks.
func Progress(clock *models.MatchClock, now int64) float64 {
	if clock.Mode == models.ClockModeCountup || clock.TotalDuration <= 0 {
		return 0
	}
	pct := float64(CurrentElapsed(clock, now)) / float64(clock.TotalDuration) * 100
	return min(100, max(0, pct))
}

// Toggle picks the transition a single start/stop button sends.
func Toggle(clock *models.MatchClock, now int64) Action {
	switch {
	case clock.Running:
		return ActionPause
	case CurrentElapsed(clock, now) > 0:
		return ActionResume
	default:
		return ActionStart
	}
}

func ptr(v int64) *int64 {
	return &v
}
