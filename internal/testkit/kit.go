// Package testkit provides the canonical network fixtures shared across
// stage tests. Fixtures are plain cases; tests build and solve them with
// whatever backends they exercise.
package testkit

import (
	"testing"

	"gasplan/domain/network"
)

// LineCase is the canonical three-node line: one producer at the reference
// node, two demand nodes downstream, and a compressor on the second pipe.
func LineCase() network.Case {
	return network.Case{
		Name: "line-3",
		Nodes: []network.Node{
			{ID: "n1", Demand: 0, MinPressureSq: 2500, MaxPressureSq: 5000, Reference: true, GaugePressureSq: 4600},
			{ID: "n2", Demand: 10, MinPressureSq: 2000, MaxPressureSq: 4900},
			{ID: "n3", Demand: 12, MinPressureSq: 1600, MaxPressureSq: 4800},
		},
		Pipes: []network.Pipe{
			{ID: "p1", From: "n1", To: "n2", Resistance: 0.6},
			{ID: "p2", From: "n2", To: "n3", Resistance: 0.8, Active: true, MinCompression: 0, MaxCompression: 5, CompressionSide: 1},
		},
		Producers: []network.Producer{
			{ID: "g1", Node: "n1", CostQuad: 0.02, CostLin: 1.5, MinInjection: 0, MaxInjection: 60},
		},
	}
}

// ForkCase is a four-node fork with two producers competing to serve two
// demand branches, one of them behind a receiving-side compressor. It
// exercises multi-producer recourse and both compression sides.
func ForkCase() network.Case {
	return network.Case{
		Name: "fork-4",
		Nodes: []network.Node{
			{ID: "hub", Demand: 0, MinPressureSq: 2500, MaxPressureSq: 5200, Reference: true, GaugePressureSq: 4800},
			{ID: "west", Demand: 8, MinPressureSq: 1800, MaxPressureSq: 5000},
			{ID: "east", Demand: 14, MinPressureSq: 1500, MaxPressureSq: 5000},
			{ID: "south", Demand: 0, MinPressureSq: 2000, MaxPressureSq: 5100},
		},
		Pipes: []network.Pipe{
			{ID: "hw", From: "hub", To: "west", Resistance: 0.5},
			{ID: "he", From: "hub", To: "east", Resistance: 0.7, Active: true, MinCompression: 0, MaxCompression: 8, CompressionSide: -1},
			{ID: "sh", From: "south", To: "hub", Resistance: 0.9},
		},
		Producers: []network.Producer{
			{ID: "g1", Node: "hub", CostQuad: 0.03, CostLin: 2.0, MinInjection: 0, MaxInjection: 40},
			{ID: "g2", Node: "south", CostQuad: 0.015, CostLin: 2.6, MinInjection: 0, MaxInjection: 30},
		},
	}
}

// BuildNet builds a case into NetworkData, failing the test on invalid
// fixtures.
func BuildNet(t *testing.T, c network.Case) *network.NetworkData {
	t.Helper()
	net, err := network.Build(c)
	if err != nil {
		t.Fatalf("building fixture %q: %v", c.Name, err)
	}
	return net
}
