package engine

import "math"

// Params are the scoring constants shared by the specificity and trim score calculators.
type Params struct {
	KMax     int
	WAge     float64
	WRecency float64
	CUsage   float64
}

// DefaultParams returns K_MAX 100, W_AGE 1.0, W_RECENCY 1.5, C_USAGE 1.0.
func DefaultParams() Params {
	return Params{
		KMax:     100,
		WAge:     1.0,
		WRecency: 1.5,
		CUsage:   1.0,
	}
}

// minSpecificity is the floor for any specificity weight.
const minSpecificity = 0.1

// InitialSpecificity is the starting weighted_access_score for a new memory,
// given the breadth of the most recent retrieval. Output is in [0.1, 1.0].
func (p Params) InitialSpecificity(lastK int) float64 {
	// No retrieval yet, or a very narrow one: don't penalize early memories.
	if lastK <= 5 {
		return 1.0
	}
	return p.decay(lastK)
}

// AccessSpecificity is the boost a retrieved item receives when the retrieval returned k results.
func (p Params) AccessSpecificity(k int) float64 {
	if k <= 0 {
		return 1.0
	}
	return p.decay(k)
}

func (p Params) decay(k int) float64 {
	kmax := p.KMax
	if kmax <= 0 {
		kmax = DefaultParams().KMax
	}
	return math.Max(minSpecificity, 1.0-float64(k)/float64(kmax))
}
