package models

// EventMode selects how new match clocks are configured.
type EventMode string

const (
	EventModeManual     EventMode = "manual"
	EventModeTournament EventMode = "tournament"
)

// TournamentConfig describes the event structure.
type TournamentConfig struct {
	Game                 string    `json:"game"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	Days                 int       `json:"days"`
	EventMode            EventMode `json:"eventMode"`
	DefaultClockDuration int64     `json:"defaultClockDuration"`
	DefaultClockMode     ClockMode `json:"defaultClockMode"`
	SwissRounds          int       `json:"swissRounds"`
	SwissRoundTime       int64     `json:"swissRoundTime"`
	CutRounds            int       `json:"cutRounds"`
	CutRoundTime         int64     `json:"cutRoundTime"`
	PlayerCount          int       `json:"playerCount"`
}

// OverlayConfig holds presentation settings for the overlay views.
type OverlayConfig struct {
	MatchOrientation   string `json:"matchOrientation"`
	CardTimeout        int    `json:"cardTimeout"`
	CardSize           int    `json:"cardSize"`
	ClearPreviewOnShow bool   `json:"clearPreviewOnShow"`
}

// Talent is a caster or host shown on the overlay.
type Talent struct {
	Name     string `json:"name"`
	ProNouns string `json:"proNouns,omitempty"`
}

// TalentConfig lists the available talent.
type TalentConfig struct {
	Talents []Talent `json:"talents"`
}

// ConfigData is the state of the "config" topic.
type ConfigData struct {
	Tournament TournamentConfig `json:"tournament"`
	Overlay    OverlayConfig    `json:"overlay"`
	Talent     TalentConfig     `json:"talent"`
}

// DefaultConfigData returns the configuration used when none has been saved.
func DefaultConfigData() ConfigData {
	return ConfigData{
		Tournament: TournamentConfig{
			Game:                 "mtg",
			Days:                 1,
			EventMode:            EventModeTournament,
			DefaultClockDuration: 50 * 60 * 1000,
			DefaultClockMode:     ClockModeCountdown,
			SwissRounds:          1,
		},
		Overlay: OverlayConfig{
			MatchOrientation: "horizontal",
			CardSize:         300,
		},
		Talent: TalentConfig{Talents: []Talent{}},
	}
}
