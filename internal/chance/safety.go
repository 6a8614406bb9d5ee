package chance

import (
	"gonum.org/v1/gonum/stat/distuv"

	"gasplan/domain/network"
)

// stdNormal is the quantile source for safety factors.
var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// ChanceCount is the number of individual chance limits sharing the
// violation budget: pressure bounds both sides per node, flow sign per
// active pipe, injection bounds both sides per producer and compression
// bounds both sides per active pipe.
func ChanceCount(net *network.NetworkData) int {
	return 2*net.NumNodes() + 2*net.NumProducers() + 3*net.NumActive()
}

// SafetyFactor is the normal quantile that backs each individual limit
// after a Bonferroni split of the violation budget across count limits.
// A zero factor turns every limit into its deterministic counterpart.
func SafetyFactor(budget float64, count int) float64 {
	if count <= 0 {
		return 0
	}
	return stdNormal.Quantile(1 - budget/float64(count))
}
