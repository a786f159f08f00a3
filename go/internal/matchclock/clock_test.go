package matchclock

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

func value(v int64) *int64 {
	return &v
}

func TestStartAdjustPause(t *testing.T) {
	clock := models.NewMatchClock(60000)
	now := int64(1_000_000)

	assert.Equal(t, Apply(clock, Command{Action: ActionStart}, now), nil)
	assert.Equal(t, clock.Running, true)
	assert.Equal(t, *clock.StartTime, now)

	now += 10000
	assert.Equal(t, CurrentElapsed(clock, now), int64(10000))
	assert.Equal(t, Apply(clock, Command{Action: ActionPause}, now), nil)

	assert.Equal(t, clock.Running, false)
	assert.Equal(t, clock.StartTime == nil, true)
	assert.Equal(t, clock.ElapsedTime, int64(10000))
	assert.Equal(t, Remaining(clock, now+99999), int64(50000))
	assert.Equal(t, IsExpired(clock, now), false)
}

func TestResumeKeepsElapsed(t *testing.T) {
	clock := models.NewMatchClock(60000)
	Apply(clock, Command{Action: ActionStart}, 0)
	Apply(clock, Command{Action: ActionPause}, 5000)
	Apply(clock, Command{Action: ActionResume}, 20000)

	assert.Equal(t, CurrentElapsed(clock, 25000), int64(10000))
	assert.Equal(t, DisplayTime(clock, 25000), int64(50000))
}

func TestReset(t *testing.T) {
	clock := models.NewMatchClock(60000)
	Apply(clock, Command{Action: ActionStart}, 0)
	Apply(clock, Command{Action: ActionReset}, 5000)

	assert.Equal(t, clock.Running, false)
	assert.Equal(t, clock.ElapsedTime, int64(0))
	assert.Equal(t, clock.StartTime == nil, true)
}

func TestSet(t *testing.T) {
	clock := models.NewMatchClock(60000)
	Apply(clock, Command{Action: ActionStart}, 0)

	assert.Equal(t, Apply(clock, Command{Action: ActionSet, Value: value(0)}, 1000), nil)
	assert.Equal(t, clock.Running, true)
	assert.Equal(t, clock.TotalDuration, int64(60000))

	Apply(clock, Command{Action: ActionSet, Value: value(120000)}, 1000)
	assert.Equal(t, clock.Running, false)
	assert.Equal(t, clock.TotalDuration, int64(120000))
	assert.Equal(t, clock.InitialDuration, int64(60000))
}

func TestAdjustCountdown(t *testing.T) {
	clock := models.NewMatchClock(60000)
	Apply(clock, Command{Action: ActionStart}, 0)

	Apply(clock, Command{Action: ActionAdjust, Value: value(10000)}, 30000)
	assert.Equal(t, clock.TotalDuration, int64(70000))
	assert.Equal(t, clock.ElapsedTime, int64(30000))
	assert.Equal(t, *clock.StartTime, int64(30000))

	Apply(clock, Command{Action: ActionAdjust, Value: value(-20000)}, 30000)
	assert.Equal(t, clock.TotalDuration, int64(50000))

	// shrinking never goes below what already ran
	Apply(clock, Command{Action: ActionAdjust, Value: value(-100000)}, 40000)
	assert.Equal(t, clock.TotalDuration, int64(40000))
	assert.Equal(t, IsExpired(clock, 40000), true)
}

func TestAdjustCountup(t *testing.T) {
	clock := models.NewMatchClock(0)
	Apply(clock, Command{Action: ActionSetMode, Mode: models.ClockModeCountup}, 0)
	assert.Equal(t, clock.TotalDuration, models.MaxDuration)

	Apply(clock, Command{Action: ActionAdjust, Value: value(15000)}, 0)
	assert.Equal(t, clock.ElapsedTime, int64(15000))

	Apply(clock, Command{Action: ActionAdjust, Value: value(-60000)}, 0)
	assert.Equal(t, clock.ElapsedTime, int64(0))
	assert.Equal(t, IsExpired(clock, 0), false)
}

func TestSetModeIgnoredWhileRunning(t *testing.T) {
	clock := models.NewMatchClock(60000)
	Apply(clock, Command{Action: ActionStart}, 0)
	Apply(clock, Command{Action: ActionSetMode, Mode: models.ClockModeCountup}, 100)

	assert.Equal(t, clock.Mode, models.ClockModeCountdown)
	assert.Equal(t, clock.Running, true)
}

func TestSetModeBackToCountdown(t *testing.T) {
	clock := models.NewMatchClock(45000)
	Apply(clock, Command{Action: ActionSetMode, Mode: models.ClockModeCountup}, 0)
	Apply(clock, Command{Action: ActionAdjust, Value: value(5000)}, 0)
	Apply(clock, Command{Action: ActionSetMode, Mode: models.ClockModeCountdown}, 0)

	assert.Equal(t, clock.TotalDuration, int64(45000))
	assert.Equal(t, clock.ElapsedTime, int64(0))
}

func TestInvalidCommands(t *testing.T) {
	clock := models.NewMatchClock(60000)

	assert.NotEqual(t, Apply(clock, Command{Action: "explode"}, 0), nil)
	assert.NotEqual(t, Apply(clock, Command{Action: ActionAdjust}, 0), nil)
	assert.NotEqual(t, Apply(clock, Command{Action: ActionSetMode, Mode: "sideways"}, 0), nil)
}

func TestToggle(t *testing.T) {
	clock := models.NewMatchClock(60000)
	assert.Equal(t, Toggle(clock, 0), ActionStart)

	Apply(clock, Command{Action: ActionStart}, 0)
	assert.Equal(t, Toggle(clock, 10), ActionPause)

	Apply(clock, Command{Action: ActionPause}, 10)
	assert.Equal(t, Toggle(clock, 10), ActionResume)
}

func TestProgress(t *testing.T) {
	clock := models.NewMatchClock(60000)
	Apply(clock, Command{Action: ActionStart}, 0)

	assert.Equal(t, Progress(clock, 30000), float64(50))
	assert.Equal(t, Progress(clock, 120000), float64(100))
}
