package matchclock

import (
	"fmt"
	"slices"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
)

// RoundInfo is the clock configuration for one tournament round.
type RoundInfo struct {
	Label    string
	Duration int64
	Mode     models.ClockMode
	IsCut    bool
}

var cutNames = []string{"Final", "Semi-Final"}

// RoundOptions lists round labels: swiss rounds in order, then cut rounds ending with the final.
func RoundOptions(swissRounds, cutRounds int) []string {
	options := make([]string, 0, max(0, swissRounds)+max(0, cutRounds))
	for i := 0; i < swissRounds; i++ {
		options = append(options, fmt.Sprintf("Round %d", i+1))
	}

	cut := make([]string, 0, max(0, cutRounds))
	for i := 0; i < cutRounds; i++ {
		if i < len(cutNames) {
			cut = append(cut, cutNames[i])
		} else {
			cut = append(cut, fmt.Sprintf("Top %d", 1<<(i+1)))
		}
	}
	slices.Reverse(cut)
	return append(options, cut...)
}

// CurrentRoundInfo resolves the clock for a round label. Swiss rounds use swissRoundTime and cut
// rounds cutRoundTime; a zero time runs the clock as countup. Unknown labels are treated as swiss.
func CurrentRoundInfo(currentRound string, swissRoundTime, cutRoundTime int64, swissRounds, cutRounds int) RoundInfo {
	index := slices.Index(RoundOptions(swissRounds, cutRounds), currentRound)
	info := RoundInfo{Label: currentRound, Duration: swissRoundTime}
	if index >= swissRounds {
		info.IsCut = true
		info.Duration = cutRoundTime
	}

	info.Mode = models.ClockModeCountdown
	if info.Duration <= 0 {
		info.Mode = models.ClockModeCountup
		info.Duration = 0
	}
	return info
}

// ClockFor builds a fresh clock for the round.
func (r RoundInfo) ClockFor() *models.MatchClock {
	clock := models.NewMatchClock(r.Duration)
	clock.Mode = r.Mode
	if r.Mode == models.ClockModeCountup {
		clock.TotalDuration = models.MaxDuration
	}
	return clock
}
