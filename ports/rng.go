package ports

import (
	"context"
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic
// sampling stages.
type RNGPort interface {
	// Source creates a deterministic random source for a named operation.
	// The same (name, seed) pair always yields the same stream, and
	// distinct names decorrelate streams sharing one base seed.
	Source(ctx context.Context, name string, seed int64) (rand.Source, error)

	// SeededStream wraps Source in a *rand.Rand for convenience.
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)
}
