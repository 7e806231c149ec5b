package engine

import "github.com/google/uuid"

// idSource owns the global sequence counter, the single authority for
// acceptance order and matching tie-breaks. Sequence 0 is never issued.
// Touched only under the core lock.
type idSource struct {
	seq uint64
}

func (s *idSource) next() uint64 {
	s.seq++
	return s.seq
}

func newID() string {
	return uuid.New().String()
}
