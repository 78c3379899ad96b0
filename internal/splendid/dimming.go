package splendid

import "math"

// PercentToDimming converts a user-facing percentage [0,100] into native
// dimming units [40,100]. Out of range input is clamped.
func PercentToDimming(percent int) int {
	percent = clamp(percent, PercentMin, PercentMax)
	span := float64(DimmingMax - DimmingMin)
	return DimmingMin + int(math.Round(float64(percent)*span/100))
}

// DimmingToPercent converts native dimming units into a percentage for display.
func DimmingToPercent(level int) int {
	level = clamp(level, DimmingMin, DimmingMax)
	span := float64(DimmingMax - DimmingMin)
	return int(math.Round(float64(level-DimmingMin) * 100 / span))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
