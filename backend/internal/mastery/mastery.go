// Package mastery holds the pure scoring rules shared by every component:
// tier classification, clamping and scale normalization.
package mastery

import (
	"math"

	"sapling-graph/backend/internal/constants"
)

// Tier classifies a mastery score. It is the only place tiers are derived.
func Tier(score float64) string {
	switch {
	case score < constants.StrugglingThreshold:
		return constants.TierUnexplored
	case score < constants.LearningThreshold:
		return constants.TierStruggling
	case score < constants.MasteredThreshold:
		return constants.TierLearning
	default:
		return constants.TierMastered
	}
}

// Clamp bounds a score to [0, 1]. NaN is treated as 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Normalize converts a score stored on a 0-100 scale to 0-1.
// Values already in range pass through unchanged.
func Normalize(score float64) float64 {
	if score > 1 {
		return score / 100
	}
	return score
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ApplyDelta returns clamp(before + delta).
func ApplyDelta(before, delta float64) float64 {
	return Clamp(before + delta)
}

// IsTier reports whether name is one of the four tier names.
func IsTier(name string) bool {
	switch name {
	case constants.TierUnexplored, constants.TierStruggling, constants.TierLearning, constants.TierMastered:
		return true
	}
	return false
}
