package engine

import "github.com/lazypower/fade/internal/store"

// ComputeIngestionPayload builds the payload for a new memory. The initial
// score comes from the breadth of the last retrieval; both timestamps are now.
func (p Params) ComputeIngestionPayload(content, memoryType, sourceID string, lastK int, now float64) *store.Payload {
	return &store.Payload{
		Content:               content,
		MemoryType:            memoryType,
		SourceID:              sourceID,
		TimestampCreated:      store.Float(now),
		TimestampLastAccessed: store.Float(now),
		WeightedAccessScore:   store.Float(p.InitialSpecificity(lastK)),
	}
}

// RetrievalUpdate is the write-back for one retrieval.
type RetrievalUpdate struct {
	Updates     []store.PayloadUpdate
	Specificity float64
}

// ComputeRetrievalUpdate adds AccessSpecificity(k) to each selected item's
// prior score. A missing prior score counts as 0.
func (p Params) ComputeRetrievalUpdate(selected []store.ScoredPoint, k int, now float64) RetrievalUpdate {
	boost := p.AccessSpecificity(k)
	updates := make([]store.PayloadUpdate, 0, len(selected))
	for _, hit := range selected {
		var prior float64
		if hit.Payload != nil && hit.Payload.WeightedAccessScore != nil {
			prior = *hit.Payload.WeightedAccessScore
		}
		updates = append(updates, store.PayloadUpdate{
			ID:                    hit.ID,
			WeightedAccessScore:   prior + boost,
			TimestampLastAccessed: now,
		})
	}
	return RetrievalUpdate{Updates: updates, Specificity: boost}
}
