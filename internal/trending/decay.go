package trending

import (
	"math"
	"time"
)

// HalfLifeDecay computes 0.5^(age/halfLife): 1 at age zero, halving every halfLifeHours.
func HalfLifeDecay(ageMinutes, halfLifeHours float64) float64 {
	return math.Pow(0.5, ageMinutes/(halfLifeHours*60))
}

// AgeMinutes returns the minutes elapsed between start and now.
func AgeMinutes(now, start time.Time) float64 {
	return float64(now.Sub(start)) / float64(time.Minute)
}
