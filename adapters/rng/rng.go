// Package rng provides the deterministic random source adapter. Streams are
// derived from a base seed and a stream name, so every sampling stage can
// own an independent, reproducible source.
package rng

import (
	"context"
	"math/rand/v2"

	"gasplan/ports"
)

// Adapter implements ports.RNGPort on top of PCG sources.
type Adapter struct{}

var _ ports.RNGPort = (*Adapter)(nil)

// New creates the adapter.
func New() *Adapter {
	return &Adapter{}
}

// Source derives a PCG source from (name, seed). The name is folded into
// the second PCG word so streams with the same base seed do not overlap.
func (a *Adapter) Source(ctx context.Context, name string, seed int64) (rand.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := hashString(name)
	return rand.NewPCG(uint64(seed)^uint64(h)<<32, uint64(h)), nil
}

// SeededStream wraps Source in a *rand.Rand.
func (a *Adapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	src, err := a.Source(ctx, name, seed)
	if err != nil {
		return nil, err
	}
	return rand.New(src), nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
