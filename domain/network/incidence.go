package network

import "gonum.org/v1/gonum/mat"

// buildIncidence assembles the node-by-edge incidence matrix: +1 at a
// pipe's sending node and -1 at its receiving node, so every column sums
// to zero.
func buildIncidence(n *NetworkData) *mat.Dense {
	a := mat.NewDense(len(n.Nodes), len(n.Pipes), nil)
	for l := range n.Pipes {
		s, r := n.Endpoints(l)
		a.Set(s, l, 1)
		a.Set(r, l, -1)
	}
	return a
}

// buildInjection assembles the node-by-edge compression-injection matrix.
// Each active pipe contributes a single entry equal to its compression side
// at the compressor's node; passive columns are all zero. This is the B in
// the nodal balance inj + B*comp - A*flow = demand.
func buildInjection(n *NetworkData) *mat.Dense {
	b := mat.NewDense(len(n.Nodes), len(n.Pipes), nil)
	for _, l := range n.ActivePipes {
		b.Set(n.InjectionNode(l), l, float64(n.Pipes[l].CompressionSide))
	}
	return b
}

// Incidence returns a copy of the node-by-edge incidence matrix.
func (n *NetworkData) Incidence() *mat.Dense {
	return mat.DenseCopyOf(n.incidence)
}

// CompressionInjection returns a copy of the node-by-edge compression
// placement matrix B.
func (n *NetworkData) CompressionInjection() *mat.Dense {
	return mat.DenseCopyOf(n.injection)
}
