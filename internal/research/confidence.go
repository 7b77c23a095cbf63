package research

import "math"

// Level buckets a confidence score for display.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Percent converts a confidence in [0,1] to a rounded percentage.
// Out-of-range and NaN values are clamped for display only.
func Percent(confidence float64) int {
	if math.IsNaN(confidence) {
		return 0
	}
	p := int(math.Round(confidence * 100))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// LevelFor returns high at 80% and above, medium at 50% and above, else low.
func LevelFor(confidence float64) Level {
	p := Percent(confidence)
	switch {
	case p >= 80:
		return LevelHigh
	case p >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}
