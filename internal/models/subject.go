package models

// Subject is one participant: an anatomical image and the stimulation sheet
// recorded on it, both named after Tag.
type Subject struct {
	Tag         string
	Anatomy     string
	Stimulation string
}
