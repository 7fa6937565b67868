// Package rng provides the seeded pseudo-random source every simulation
// component draws from, so a run can be replayed exactly from its seed.
package rng

import (
	"errors"
	"fmt"
	"math"
)

// DefaultSeed is used by Default for callers that do not care about the seed.
const DefaultSeed uint32 = 1337

var ErrInvalidArgument = errors.New("invalid argument")

// Source is a mulberry32 generator. It is not safe for concurrent use.
type Source struct {
	seed  uint32
	state uint32

	hasSpare bool
	spare    float64
}

func New(seed uint32) *Source {
	s := &Source{}
	s.Reseed(seed)
	return s
}

func Default() *Source {
	return New(DefaultSeed)
}

// Reseed resets the generator; the sequence that follows matches New(seed).
func (s *Source) Reseed(seed uint32) {
	s.seed = seed
	s.state = seed
	s.hasSpare = false
	s.spare = 0
}

func (s *Source) Seed() uint32 {
	return s.seed
}

func (s *Source) next32() uint32 {
	s.state += 0x6D2B79F5
	t := s.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Float64 returns a value in [0,1).
func (s *Source) Float64() float64 {
	return float64(s.next32()) / 4294967296.0
}

func (s *Source) FloatRange(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.Float64()*(hi-lo)
}

// IntRange returns an int in [lo, hi], both inclusive.
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + int(s.Float64()*float64(hi-lo+1))
}

// Bool reports true with probability p.
func (s *Source) Bool(p float64) bool {
	return s.Float64() < p
}

// Normal draws from N(mean, stddev²) using Box-Muller; the second sample of
// each pair is cached for the next call.
func (s *Source) Normal(mean, stddev float64) float64 {
	if s.hasSpare {
		s.hasSpare = false
		return mean + stddev*s.spare
	}
	u1 := s.Float64()
	for u1 <= 1e-12 {
		u1 = s.Float64()
	}
	u2 := s.Float64()
	r := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	s.spare = r * math.Sin(theta)
	s.hasSpare = true
	return mean + stddev*r*math.Cos(theta)
}

// BoundedNormal draws from N(0, stddev²) and clamps the sample to ±limit.
func (s *Source) BoundedNormal(stddev, limit float64) float64 {
	v := s.Normal(0, stddev)
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// WeightedChoice picks one item with probability proportional to its weight.
func WeightedChoice[T any](s *Source, items []T, weights []float64) (T, error) {
	var zero T
	if len(items) == 0 || len(items) != len(weights) {
		return zero, fmt.Errorf("weighted choice: %d items, %d weights: %w", len(items), len(weights), ErrInvalidArgument)
	}
	total := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return zero, fmt.Errorf("weighted choice: negative weight: %w", ErrInvalidArgument)
		}
		total += w
	}
	if total <= 0 {
		return zero, fmt.Errorf("weighted choice: total weight %v: %w", total, ErrInvalidArgument)
	}
	r := s.Float64() * total
	for i, w := range weights {
		if r < w {
			return items[i], nil
		}
		r -= w
	}
	// rounding can leave r just above the last bucket
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return items[i], nil
		}
	}
	return zero, ErrInvalidArgument
}

// Shuffle permutes items in place (Fisher-Yates).
func Shuffle[T any](s *Source, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := int(s.Float64() * float64(i+1))
		items[i], items[j] = items[j], items[i]
	}
}

// Sample returns k distinct items chosen without replacement. The input is
// left untouched.
func Sample[T any](s *Source, items []T, k int) ([]T, error) {
	if k < 0 || k > len(items) {
		return nil, fmt.Errorf("sample %d of %d: %w", k, len(items), ErrInvalidArgument)
	}
	pool := append([]T(nil), items...)
	out := make([]T, 0, k)
	for i := 0; i < k; i++ {
		j := i + int(s.Float64()*float64(len(pool)-i))
		pool[i], pool[j] = pool[j], pool[i]
		out = append(out, pool[i])
	}
	return out, nil
}
