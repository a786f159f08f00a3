package models

import "strconv"

// ClockMode is the direction a match clock counts.
type ClockMode string

const (
	ClockModeCountdown ClockMode = "countdown"
	ClockModeCountup   ClockMode = "countup"
)

// MaxDuration is the total duration of a countup clock (largest integer exactly representable
// by the overlay's JSON consumers).
const MaxDuration int64 = 1<<53 - 1

// MatchClock is the persisted clock of a match. All durations and timestamps are milliseconds.
type MatchClock struct {
	Running         bool      `json:"running"`
	Mode            ClockMode `json:"mode"`
	InitialDuration int64     `json:"initialDuration"`
	TotalDuration   int64     `json:"totalDuration"`
	ElapsedTime     int64     `json:"elapsedTime"`
	StartTime       *int64    `json:"startTime"`
}

// Score is a player's match record.
type Score struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// Record formats the score as wins-losses with draws appended when present.
func (s Score) Record() string {
	record := strconv.Itoa(s.Wins) + "-" + strconv.Itoa(s.Losses)
	if s.Draws > 0 {
		record += "-" + strconv.Itoa(s.Draws)
	}
	return record
}

// PlayerData is one side of a match.
type PlayerData struct {
	Name     string `json:"name"`
	ProNouns string `json:"proNouns"`
	Deck     string `json:"deck"`
	Position string `json:"position"`
	Score    Score  `json:"score"`
}

// MatchData is one entry of the "matches" topic.
type MatchData struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	TableNumber string      `json:"tableNumber"`
	PlayerOne   PlayerData  `json:"playerOne"`
	PlayerTwo   PlayerData  `json:"playerTwo"`
	Clock       *MatchClock `json:"clock,omitempty"`
}

// MatchDataList is the state of the "matches" topic.
type MatchDataList []MatchData

// IndexOf returns the position of the match with the given id, or -1.
func (l MatchDataList) IndexOf(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// NewMatch builds an empty match with the given identity.
func NewMatch(id, name string) MatchData {
	return MatchData{ID: id, Name: name}
}

// NewMatchClock builds a stopped countdown clock of the given length.
func NewMatchClock(durationMs int64) *MatchClock {
	return &MatchClock{
		Mode:            ClockModeCountdown,
		InitialDuration: durationMs,
		TotalDuration:   durationMs,
	}
}

// WithDisplayPositions returns a copy where players without an explicit position show their record.
func (l MatchDataList) WithDisplayPositions() MatchDataList {
	out := make(MatchDataList, len(l))
	copy(out, l)
	for i := range out {
		if out[i].PlayerOne.Position == "" {
			out[i].PlayerOne.Position = out[i].PlayerOne.Score.Record()
		}
		if out[i].PlayerTwo.Position == "" {
			out[i].PlayerTwo.Position = out[i].PlayerTwo.Score.Record()
		}
	}
	return out
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
