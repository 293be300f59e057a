package wire

import (
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// GapStats is the receiver-side view of one Stream wire.
type GapStats struct {
	LastSeen int64 // last sequence number received
	Gaps     int64 // number of jumps detected
	Missed   int64 // emissions skipped over by those jumps
}

// Sequencer tracks the last sequence number received per Stream wire from a
// single remote sender and detects gaps. It never asks for retransmission.
type Sequencer struct {
	mu    ksync.Mutex
	wires map[ID]*GapStats
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{wires: make(map[ID]*GapStats)}
}

// Observe records seq for id and returns how many emissions were skipped
// since the previous one. A jump is only counted once something was seen.
func (s *Sequencer) Observe(id ID, seq int64) (missed int64) {
	if seq <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.wires[id]
	if !ok {
		st = &GapStats{}
		s.wires[id] = st
	}
	if st.LastSeen > 0 && seq > st.LastSeen+1 {
		missed = seq - (st.LastSeen + 1)
		st.Gaps++
		st.Missed += missed
	}
	st.LastSeen = seq
	return missed
}

// Stats returns the counters for id.
func (s *Sequencer) Stats(id ID) GapStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.wires[id]; ok {
		return *st
	}
	return GapStats{}
}
