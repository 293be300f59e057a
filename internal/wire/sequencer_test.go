package wire

import "testing"

func TestSequencer_DetectsGaps(t *testing.T) {
	tests := []struct {
		name       string
		seqs       []int64
		wantGaps   int64
		wantMissed int64
		wantLast   int64
	}{
		{"contiguous", []int64{1, 2, 3}, 0, 0, 3},
		{"single jump", []int64{1, 2, 5}, 1, 2, 5},
		{"first frame is not a gap", []int64{7, 8}, 0, 0, 8},
		{"two jumps", []int64{1, 3, 10}, 2, 7, 10},
		{"reorder is not counted", []int64{1, 3, 2}, 1, 1, 2},
		{"unsequenced frames ignored", []int64{1, 0, 2}, 0, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSequencer()
			for _, seq := range tt.seqs {
				s.Observe("mouse", seq)
			}

			st := s.Stats("mouse")
			if st.Gaps != tt.wantGaps {
				t.Errorf("Gaps = %d, want %d", st.Gaps, tt.wantGaps)
			}
			if st.Missed != tt.wantMissed {
				t.Errorf("Missed = %d, want %d", st.Missed, tt.wantMissed)
			}
			if st.LastSeen != tt.wantLast {
				t.Errorf("LastSeen = %d, want %d", st.LastSeen, tt.wantLast)
			}
		})
	}
}

func TestSequencer_ReturnsMissed(t *testing.T) {
	s := NewSequencer()
	if m := s.Observe("a", 1); m != 0 {
		t.Errorf("first Observe() = %d, want 0", m)
	}
	if m := s.Observe("a", 4); m != 2 {
		t.Errorf("Observe(4) = %d, want 2", m)
	}
	// Wires are tracked independently.
	if m := s.Observe("b", 9); m != 0 {
		t.Errorf("Observe(b, 9) = %d, want 0", m)
	}
	if st := s.Stats("unknown"); st != (GapStats{}) {
		t.Errorf("Stats(unknown) = %+v", st)
	}
}
