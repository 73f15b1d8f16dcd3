package segment

import (
	"fmt"
	"testing"
)

func TestOf_SingleSegment(t *testing.T) {
	for _, key := range []string{"1", "42", "abc", ""} {
		if got := Of(key, 1); got != 0 {
			t.Errorf("Of(%q, 1) = %d, want 0", key, got)
		}
	}
}

func TestOf_ZeroSegments(t *testing.T) {
	if Of("1", 0) != 0 || Of("1", -1) != 0 {
		t.Error("expected zero or negative totals to be treated as one segment")
	}
}

func TestOf_Distribution(t *testing.T) {
	counts := make(map[int]int)
	for i := 0; i < 1000; i++ {
		seg := Of(fmt.Sprintf("item-%d", i), 8)
		if seg < 0 || seg >= 8 {
			t.Fatalf("segment %d out of range", seg)
		}
		counts[seg]++
	}
	if len(counts) != 8 {
		t.Errorf("expected keys in all 8 segments, got %d", len(counts))
	}
}

func TestOf_Deterministic(t *testing.T) {
	first := Of("item-7", 16)
	for i := 0; i < 100; i++ {
		if got := Of("item-7", 16); got != first {
			t.Fatalf("expected deterministic result %d, got %d", first, got)
		}
	}
}

func TestContains_Partition(t *testing.T) {
	// every key belongs to exactly one segment
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("k%d", i)
		n := 0
		for seg := 0; seg < 4; seg++ {
			if Contains(key, seg, 4) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("key %q in %d segments", key, n)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		seg, total int
		want       bool
	}{
		{0, 1, true},
		{3, 4, true},
		{4, 4, false},
		{-1, 4, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		if got := Valid(tt.seg, tt.total); got != tt.want {
			t.Errorf("Valid(%d, %d) = %v, want %v", tt.seg, tt.total, got, tt.want)
		}
	}
}
