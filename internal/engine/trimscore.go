package engine

import (
	"math"

	"github.com/lazypower/fade/internal/store"
)

// youngAge protects unscoreable items from eviction while they are under a minute old.
const youngAge = 60.0

// TrimScore ranks an item for eviction; higher is more evictable.
//
//	score = (W_AGE*age + W_RECENCY*recency) / ln(max(0.1, weighted_access_score) + C_USAGE)
//
// A nil payload scores +Inf. Missing timestamps count as "now" and a missing
// score counts as 0, so absent data never raises eviction priority.
func (p Params) TrimScore(pl *store.Payload, now float64) float64 {
	if pl == nil {
		return math.Inf(1)
	}

	created := now
	if pl.TimestampCreated != nil {
		created = *pl.TimestampCreated
	}
	lastAccessed := created
	if pl.TimestampLastAccessed != nil {
		lastAccessed = *pl.TimestampLastAccessed
	}
	var weighted float64
	if pl.WeightedAccessScore != nil {
		weighted = *pl.WeightedAccessScore
	}

	age := now - created
	recency := now - lastAccessed

	usage := math.Log(math.Max(minSpecificity, weighted) + p.CUsage)
	if usage <= 0 || math.IsNaN(usage) {
		if age < youngAge {
			return 0
		}
		return math.Inf(1)
	}

	return (p.WAge*age + p.WRecency*recency) / usage
}
