package execution

import "sync/atomic"

// SequenceNumbers hands out strictly monotonic, gap-free sequence numbers.
// Next only peeks; a number becomes current after Confirm, so a failed
// persist does not burn one. Only the business goroutine calls Next and
// Confirm; Current is also read by health and stats handlers, hence the
// atomic.
type SequenceNumbers struct {
	current atomic.Uint64
}

// NewSequenceNumbers starts counting after last.
func NewSequenceNumbers(last uint64) *SequenceNumbers {
	s := &SequenceNumbers{}
	s.current.Store(last)
	return s
}

// Next returns the number the next successful message will carry.
func (s *SequenceNumbers) Next() uint64 {
	return s.current.Load() + 1
}

// Confirm marks n as used.
func (s *SequenceNumbers) Confirm(n uint64) {
	s.current.Store(n)
}

// Current returns the last confirmed number.
func (s *SequenceNumbers) Current() uint64 {
	return s.current.Load()
}

// Reset sets the last confirmed number. Only used when loading state.
func (s *SequenceNumbers) Reset(v uint64) {
	s.current.Store(v)
}
