package simulation

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is a random source safe for concurrent ticks. A fixed seed
// replays the same sequence of draws.
type Source struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSource seeds a source. Seed 0 seeds from the clock.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{r: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

// Float64 returns a value in [0,1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// IntN returns a value in [0,n). n must be positive.
func (s *Source) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// Between returns a value in [lo,hi).
func (s *Source) Between(lo, hi float64) float64 {
	return lo + s.Float64()*(hi-lo)
}

// Chance reports true with probability p.
func (s *Source) Chance(p float64) bool {
	return s.Float64() < p
}

// Weighted picks an index by cumulative weight. Zero total weight
// falls back to a uniform pick.
func (s *Source) Weighted(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += max(w, 0)
	}
	if total <= 0 {
		return s.IntN(len(weights))
	}

	target := s.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += max(w, 0)
		if target < cum {
			return i
		}
	}
	return len(weights) - 1
}
