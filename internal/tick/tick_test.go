package tick

import "testing"

func TestElapsed(t *testing.T) {
	tests := []struct {
		name    string
		start   uint32
		current uint32
		want    uint32
	}{
		{
			name:    "no elapsed time",
			start:   1000,
			current: 1000,
			want:    0,
		},
		{
			name:    "simple forward",
			start:   1000,
			current: 1500,
			want:    500,
		},
		{
			name:    "wraparound near max",
			start:   0xFFFFFFF0,
			current: 0x00000010,
			want:    0x20,
		},
		{
			name:    "wraparound by one",
			start:   0xFFFFFFFF,
			current: 0x00000000,
			want:    1,
		},
		{
			name:    "full range minus one",
			start:   1,
			current: 0,
			want:    0xFFFFFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Elapsed(tt.start, tt.current); got != tt.want {
				t.Errorf("Elapsed(%#x, %#x) = %#x, want %#x", tt.start, tt.current, got, tt.want)
			}
		})
	}
}

func TestSimulatedAdvance(t *testing.T) {
	s := NewSimulated(100)
	s.Advance(50)
	if got := s.Now(); got != 150 {
		t.Errorf("Now() = %d, want 150", got)
	}

	// Advancing across the wrap boundary must wrap, not saturate.
	s.Set(0xFFFFFFFE)
	s.Advance(4)
	if got := s.Now(); got != 2 {
		t.Errorf("Now() after wrap = %d, want 2", got)
	}
}
