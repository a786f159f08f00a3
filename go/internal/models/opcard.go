package models

// OpCardDisplayData is the presentation state of a One Piece card.
type OpCardDisplayData struct {
	Hidden bool `json:"hidden"`
	ShowTimeout
}

// OpCardData is the state of the "opCard" topic.
type OpCardData struct {
	ID            string            `json:"id"`
	Code          string            `json:"code"`
	Rarity        string            `json:"rarity"`
	Type          string            `json:"type"`
	Name          string            `json:"name"`
	Cost          int               `json:"cost"`
	Power         *int              `json:"power"`
	Counter       *string           `json:"counter"`
	Color         string            `json:"color"`
	Family        string            `json:"family"`
	Ability       string            `json:"ability"`
	Trigger       string            `json:"trigger"`
	SetName       string            `json:"set_name"`
	ImageURL      string            `json:"image_url"`
	AttributeName string            `json:"attribute_name"`
	DisplayData   OpCardDisplayData `json:"displayData"`
}

// DefaultOpCardData returns an empty, hidden card.
func DefaultOpCardData() OpCardData {
	return OpCardData{DisplayData: OpCardDisplayData{Hidden: true}}
}
