package rng

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gorisk/domain/core"
)

// PCGAdapter implements ports.RNGPort with PCG streams. The two PCG state
// words are derived from (seed, scope) and the unit index through splitmix64,
// so neighbouring indices produce unrelated streams.
type PCGAdapter struct{}

// NewPCGAdapter creates the default stream deriver.
func NewPCGAdapter() *PCGAdapter {
	return &PCGAdapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (a *PCGAdapter) SeededStream(name string, seed int64) *rand.Rand {
	return a.Stream(seed, name, 0)
}

// Stream creates the stream for unit index within scope
func (a *PCGAdapter) Stream(seed int64, scope string, index int) *rand.Rand {
	hi := splitmix64(uint64(seed) ^ hashString(scope))
	lo := splitmix64(hi ^ splitmix64(uint64(index)+0x632be59bd9b4e019))
	return rand.New(rand.NewPCG(hi, lo))
}

// ValidateSeed ensures the seed produces expected deterministic results
func (a *PCGAdapter) ValidateSeed(name string, seed int64, expected []float64) error {
	stream := a.SeededStream(name, seed)
	for i, want := range expected {
		got := stream.Float64()
		if math.Float64bits(got) != math.Float64bits(want) {
			return fmt.Errorf("%w: %s draw %d = %v, want %v", core.ErrSeedMismatch, name, i, got, want)
		}
	}
	return nil
}

// hashString creates a 64-bit djb2 hash for deterministic seeding
func hashString(s string) uint64 {
	var hash uint64 = 5381
	for i := 0; i < len(s); i++ {
		hash = ((hash << 5) + hash) + uint64(s[i])
	}
	return hash
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
