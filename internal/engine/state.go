package engine

import "sync/atomic"

// DefaultRetrievalCount is the breadth assumed before any retrieval has happened.
const DefaultRetrievalCount = 50

// RetrievalState records the breadth of the most recent retrieval.
// It lives for the process lifetime and is not persisted. Concurrent
// retrievals race last-write-wins; the value is a heuristic signal only.
type RetrievalState struct {
	last atomic.Int64
}

// NewRetrievalState returns a state holding DefaultRetrievalCount.
func NewRetrievalState() *RetrievalState {
	s := &RetrievalState{}
	s.last.Store(DefaultRetrievalCount)
	return s
}

// Set records count. Negative values are ignored.
func (s *RetrievalState) Set(count int) {
	if count < 0 {
		return
	}
	s.last.Store(int64(count))
}

// Get returns the last recorded count.
func (s *RetrievalState) Get() int {
	return int(s.last.Load())
}
