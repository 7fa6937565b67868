package rng

import (
	"errors"
	"math"
	"testing"
)

func TestSameSeedSameSequence(t *testing.T) {
	a := New(12345)
	b := New(12345)
	for i := 0; i < 1000; i++ {
		x, y := a.Float64(), b.Float64()
		if x != y {
			t.Fatalf("step %d: got=%v want=%v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("step %d: value %v outside [0,1)", i, x)
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New(1)
	b := New(2)
	same := 0
	for i := 0; i < 100; i++ {
		if a.Float64() == b.Float64() {
			same++
		}
	}
	if same > 5 {
		t.Fatalf("sequences too similar: %d identical draws", same)
	}
}

func TestReseedReplaysFreshInstance(t *testing.T) {
	s := New(99)
	for i := 0; i < 37; i++ {
		s.Float64()
	}
	// leave a cached gaussian sample behind
	s.Normal(0, 1)

	s.Reseed(4242)
	fresh := New(4242)
	for i := 0; i < 200; i++ {
		var got, want float64
		switch i % 3 {
		case 0:
			got, want = s.Float64(), fresh.Float64()
		case 1:
			got, want = s.Normal(1, 2), fresh.Normal(1, 2)
		default:
			got, want = float64(s.IntRange(-5, 5)), float64(fresh.IntRange(-5, 5))
		}
		if math.Float64bits(got) != math.Float64bits(want) {
			t.Fatalf("draw %d: got=%v want=%v", i, got, want)
		}
	}
	if s.Seed() != 4242 {
		t.Fatalf("seed=%d, want 4242", s.Seed())
	}
}

func TestIntRangeInclusive(t *testing.T) {
	s := New(7)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := s.IntRange(0, 3)
		if v < 0 || v > 3 {
			t.Fatalf("value %d outside [0,3]", v)
		}
		seen[v] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected all of 0..3, saw %v", seen)
	}
	if got := s.IntRange(5, 5); got != 5 {
		t.Fatalf("degenerate range got=%d want=5", got)
	}
}

func TestNormalMoments(t *testing.T) {
	s := New(2024)
	const n = 20000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		v := s.Normal(3, 2)
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if math.Abs(mean-3) > 0.1 {
		t.Fatalf("mean=%.3f, want ~3", mean)
	}
	if math.Abs(math.Sqrt(variance)-2) > 0.1 {
		t.Fatalf("stddev=%.3f, want ~2", math.Sqrt(variance))
	}
}

func TestBoundedNormal(t *testing.T) {
	s := New(3)
	for i := 0; i < 5000; i++ {
		if v := s.BoundedNormal(1, 0.05); math.Abs(v) > 0.05 {
			t.Fatalf("sample %v exceeds bound", v)
		}
	}
}

func TestWeightedChoice(t *testing.T) {
	s := New(11)
	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		v, err := WeightedChoice(s, []string{"a", "b", "c"}, []float64{1, 0, 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[v]++
	}
	if counts["b"] != 0 {
		t.Fatalf("zero-weight item chosen %d times", counts["b"])
	}
	if counts["c"] < 2*counts["a"] {
		t.Fatalf("weights not respected: %v", counts)
	}
}

func TestWeightedChoiceInvalid(t *testing.T) {
	s := New(1)
	tests := []struct {
		name    string
		items   []int
		weights []float64
	}{
		{name: "empty", items: nil, weights: nil},
		{name: "length mismatch", items: []int{1, 2}, weights: []float64{1}},
		{name: "zero total", items: []int{1, 2}, weights: []float64{0, 0}},
		{name: "negative", items: []int{1, 2}, weights: []float64{2, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WeightedChoice(s, tt.items, tt.weights); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err=%v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	s := New(5)
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	Shuffle(s, items)
	seen := make([]bool, len(items))
	for _, v := range items {
		if seen[v] {
			t.Fatalf("duplicate %d after shuffle: %v", v, items)
		}
		seen[v] = true
	}

	a, b := []int{1, 2, 3, 4, 5}, []int{1, 2, 3, 4, 5}
	Shuffle(New(8), a)
	Shuffle(New(8), b)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("shuffle not reproducible: %v vs %v", a, b)
		}
	}
}

func TestSample(t *testing.T) {
	s := New(17)
	items := []string{"a", "b", "c", "d", "e"}
	got, err := Sample(s, items, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	uniq := map[string]bool{}
	for _, v := range got {
		uniq[v] = true
	}
	if len(uniq) != 3 {
		t.Fatalf("sample has duplicates: %v", got)
	}
	if items[0] != "a" || items[4] != "e" {
		t.Fatalf("input mutated: %v", items)
	}
	if _, err := Sample(s, items, 6); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err=%v, want ErrInvalidArgument", err)
	}
}
