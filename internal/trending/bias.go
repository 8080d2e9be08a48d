package trending

import (
	"math"
	"sort"
	"strings"
)

// maxSpread is the standard deviation at which a distribution counts as fully biased.
const maxSpread = 8.0

// EstimateBias measures how unevenly edits are spread across editors.
// It returns 1 when one or no editor did the work and 0 for a perfectly even spread.
// With more than ten editors the most prolific tenth is ignored, so a handful of
// heavy editors cannot mark an otherwise broad page as biased.
func EstimateBias(d Distribution) float64 {
	counts := make([]float64, 0, len(d))
	for _, n := range d {
		counts = append(counts, float64(n))
	}

	if len(counts) <= 1 {
		return 1
	}

	counts = trimTopTenth(counts)
	sd := stddev(counts)
	return math.Min(sd, maxSpread) / maxSpread
}

// trimTopTenth drops the floor(n/10) largest values once n exceeds ten.
func trimTopTenth(xs []float64) []float64 {
	n := len(xs)
	if n <= 10 {
		return xs
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	return cp[:n-n/10]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sq := 0.0
	for _, x := range xs {
		dev := x - m
		sq += dev * dev
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// IsAnonymousEditor treats identifiers containing ':' or '.' as IP-style editors.
// Named accounts such as "j.smith" are misclassified as anonymous.
func IsAnonymousEditor(id string) bool {
	return strings.ContainsAny(id, ":.")
}

// ClassifyEditors counts named and anonymous editors in a distribution.
func ClassifyEditors(d Distribution) (named, anon int) {
	for id := range d {
		if IsAnonymousEditor(id) {
			anon++
		} else {
			named++
		}
	}
	return named, anon
}
