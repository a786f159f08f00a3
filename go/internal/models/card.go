package models

// ImageURIs mirrors the image uri block of a card lookup response.
type ImageURIs struct {
	Small      string `json:"small,omitempty"`
	Normal     string `json:"normal,omitempty"`
	Large      string `json:"large,omitempty"`
	PNG        string `json:"png,omitempty"`
	ArtCrop    string `json:"art_crop,omitempty"`
	BorderCrop string `json:"border_crop,omitempty"`
}

// CardImageData holds the front and back faces of a card.
type CardImageData struct {
	Front *ImageURIs `json:"front"`
	Back  *ImageURIs `json:"back"`
}

// CardOrientationData describes which display transforms a card supports.
type CardOrientationData struct {
	Flipable          bool `json:"flipable"`
	Turnable          bool `json:"turnable"`
	Rotateable        bool `json:"rotateable"`
	CounterRotateable bool `json:"counterRotateable"`
	DefaultRotated    bool `json:"defaultRotated"`
}

// CardMeldData links the parts of a meld card.
type CardMeldData struct {
	MeldPartOne *string `json:"meldPartOne"`
	MeldPartTwo *string `json:"meldPartTwo"`
	MeldResult  *string `json:"meldResult"`
}

// CardDisplayData is the mutable presentation state of the card on the overlay.
type CardDisplayData struct {
	Hidden         bool `json:"hidden"`
	Flipped        bool `json:"flipped"`
	Rotated        bool `json:"rotated"`
	CounterRotated bool `json:"counterRotated"`
	TurnedOver     bool `json:"turnedOver"`
	ShowTimeout
}

// ShowTimeout stamps an auto-hide on a shown card. Both fields are unix milliseconds.
type ShowTimeout struct {
	TimeoutStartTimestamp *int64 `json:"timeoutStartTimestamp,omitempty"`
	TimeoutDuration       *int64 `json:"timeoutDuration,omitempty"`
}

// Clear drops any pending auto-hide stamp.
func (s *ShowTimeout) Clear() {
	s.TimeoutStartTimestamp = nil
	s.TimeoutDuration = nil
}

// Matches reports whether two stamps describe the same scheduled hide.
func (s ShowTimeout) Matches(other ShowTimeout) bool {
	if s.TimeoutStartTimestamp == nil || other.TimeoutStartTimestamp == nil {
		return s.TimeoutStartTimestamp == nil && other.TimeoutStartTimestamp == nil
	}
	return *s.TimeoutStartTimestamp == *other.TimeoutStartTimestamp
}

// CardData is the state of the "card" topic: the featured Magic card.
type CardData struct {
	Name            string              `json:"name"`
	Set             string              `json:"set"`
	Layout          string              `json:"layout"`
	ImageData       CardImageData       `json:"imageData"`
	OrientationData CardOrientationData `json:"orientationData"`
	MeldData        *CardMeldData       `json:"meldData,omitempty"`
	Points          int                 `json:"points"`
	DisplayData     CardDisplayData     `json:"displayData"`
}

// CardImageSlots is the overlay projection of a card: exactly one slot carries an image.
type CardImageSlots struct {
	VerticalImage       string `json:"verticalImage"`
	RotatedImage        string `json:"rotatedImage"`
	CounterRotatedImage string `json:"counterRotatedImage"`
	FlippedImage        string `json:"flippedImage"`
	Points              string `json:"points"`
}

// ImageSlots projects the card onto the overlay slots, using empty for unused slots.
func (c *CardData) ImageSlots(empty string) CardImageSlots {
	slots := CardImageSlots{
		VerticalImage:       empty,
		RotatedImage:        empty,
		CounterRotatedImage: empty,
		FlippedImage:        empty,
	}

	if c == nil || c.DisplayData.Hidden || c.ImageData.Front == nil || c.ImageData.Front.PNG == "" {
		return slots
	}

	if c.Points == 1 {
		slots.Points = "1 point"
	} else if c.Points > 1 {
		slots.Points = itoa(c.Points) + " points"
	}

	front := c.ImageData.Front.PNG
	switch {
	case c.DisplayData.Flipped:
		slots.FlippedImage = front
	case c.DisplayData.Rotated:
		slots.RotatedImage = front
	case c.DisplayData.CounterRotated:
		slots.CounterRotatedImage = front
	case c.DisplayData.TurnedOver:
		if c.ImageData.Back != nil && c.ImageData.Back.PNG != "" {
			slots.VerticalImage = c.ImageData.Back.PNG
		}
	default:
		slots.VerticalImage = front
	}
	return slots
}
