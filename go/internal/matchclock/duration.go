package matchclock

import (
	"errors"
	"fmt"
	"math"
)

var errNegativeDuration = errors.New("duration cannot be negative")

// Parts is a millisecond duration broken down for display.
type Parts struct {
	Hours        int64
	Minutes      int64
	Seconds      int64
	TotalMinutes int64
	TotalSeconds int64
}

// Display renders MM:SS, or HH:MM:SS once the duration reaches an hour.
func (p Parts) Display() string {
	if p.Hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", p.Hours, p.Minutes, p.Seconds)
	}
	return fmt.Sprintf("%02d:%02d", p.Minutes, p.Seconds)
}

// ToParts splits milliseconds into hours, minutes and seconds.
func ToParts(ms int64) Parts {
	totalSeconds := ms / 1000
	totalMinutes := totalSeconds / 60
	return Parts{
		Hours:        totalMinutes / 60,
		Minutes:      totalMinutes % 60,
		Seconds:      totalSeconds % 60,
		TotalMinutes: totalMinutes,
		TotalSeconds: totalSeconds,
	}
}

// MinutesToMs converts minutes to whole milliseconds.
func MinutesToMs(minutes float64) (int64, error) {
	if minutes < 0 {
		return 0, errNegativeDuration
	}
	return int64(math.Round(minutes * 60 * 1000)), nil
}

// MsToMinutes converts milliseconds to the nearest whole minute.
func MsToMinutes(ms int64) (int64, error) {
	if ms < 0 {
		return 0, errNegativeDuration
	}
	return int64(math.Round(float64(ms) / 60000)), nil
}
