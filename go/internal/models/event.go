package models

// EventData is the state of the "event" topic.
type EventData struct {
	CurrentDay   string `json:"currentDay"`
	CurrentRound string `json:"currentRound"`
	LeftTalent   string `json:"leftTalent"`
	RightTalent  string `json:"rightTalent"`
	HoldingText  string `json:"holdingText"`
}
