package ports

import (
	"math/rand/v2"
)

// RNGPort derives deterministic random streams. Every unit of parallel work
// (a chunk of Monte Carlo draws, one MCMC chain) gets its own stream derived
// from the base seed, a scope name and the unit index, so results do not depend
// on scheduling.
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(name string, seed int64) *rand.Rand

	// Stream creates the stream for unit index within scope
	Stream(seed int64, scope string, index int) *rand.Rand

	// ValidateSeed ensures the seed produces expected deterministic results
	ValidateSeed(name string, seed int64, expected []float64) error
}
