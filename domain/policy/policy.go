package policy

import "gonum.org/v1/gonum/mat"

// ConeDual carries the two multiplier parts of one second-order cone
// constraint: Slack prices the scalar slack row and Vector prices the
// stacked uncertainty rows. A converged solution keeps |Vector| <= Slack.
type ConeDual struct {
	Slack  float64   `json:"slack"`
	Vector []float64 `json:"vector,omitempty"`
}

// DualBundle exposes every multiplier of the chance-constrained program
// under a stable name instead of a positional slice. Equality multipliers
// are plain values; inequality multipliers are ConeDuals.
type DualBundle struct {
	// Balance holds per-node prices on the nominal gas balance.
	Balance []float64 `json:"balance"`
	// FlowLinear holds per-pipe multipliers on the linearized Weymouth
	// equalities.
	FlowLinear []float64 `json:"flow_linear"`
	// Reference is the multiplier on the pressure gauge pin.
	Reference float64 `json:"reference"`
	// Recourse holds per-demand-node prices on the recourse balance
	// identity, indexed like NetworkData.DemandNodes.
	Recourse []float64 `json:"recourse"`

	PressureHi    []ConeDual `json:"pressure_hi"`    // per node
	PressureLo    []ConeDual `json:"pressure_lo"`    // per node
	FlowLo        []ConeDual `json:"flow_lo"`        // per active pipe
	InjectionHi   []ConeDual `json:"injection_hi"`   // per producer
	InjectionLo   []ConeDual `json:"injection_lo"`   // per producer
	CompressionHi []ConeDual `json:"compression_hi"` // per active pipe
	CompressionLo []ConeDual `json:"compression_lo"` // per active pipe

	PressureSpread ConeDual   `json:"pressure_spread"`
	FlowSpread     ConeDual   `json:"flow_spread"`
	Cost           []ConeDual `json:"cost"` // per producer epigraph
}

// Policy is the chance-constrained dispatch decision: nominal state plus
// the affine recourse that reacts to realized demand errors.
type Policy struct {
	// Nominal state, shaped like OperatingPoint.
	Injection   []float64 `json:"injection"`   // per producer
	PressureSq  []float64 `json:"pressure_sq"` // per node
	Flow        []float64 `json:"flow"`        // per pipe
	Compression []float64 `json:"compression"` // per pipe

	// Alpha (producer x node) distributes realized demand error to
	// producers; columns off demand nodes are structurally zero. Beta
	// (pipe x node) does the same for compression, with zero rows at
	// passive pipes.
	Alpha *mat.Dense `json:"-"`
	Beta  *mat.Dense `json:"-"`

	// PressureSpread and FlowSpread are the dispersion epigraph values
	// priced by the penalty settings.
	PressureSpread float64 `json:"pressure_spread"`
	FlowSpread     float64 `json:"flow_spread"`
	// CostEpigraph holds the per-producer expected-cost epigraph values.
	CostEpigraph []float64 `json:"cost_epigraph"`

	// SafetyFactor is the normal quantile applied to every chance
	// constraint; ChanceCount is the number of limits sharing the budget.
	SafetyFactor float64 `json:"safety_factor"`
	ChanceCount  int     `json:"chance_count"`

	// Objective is the optimal value: expected production cost plus
	// dispersion penalties.
	Objective float64 `json:"objective"`

	Duals DualBundle `json:"duals"`

	// Primal is the raw solver vector in builder ordering, kept so the
	// dual analysis can replay the exact optimality system.
	Primal []float64 `json:"-"`

	SolverIterations int     `json:"solver_iterations"`
	SolverGap        float64 `json:"solver_gap"`
}

// NodeAlpha aggregates producer recourse rows onto their nodes, returning a
// node-by-node matrix.
func (p *Policy) NodeAlpha(producerNodes []int, numNodes int) *mat.Dense {
	out := mat.NewDense(numNodes, numNodes, nil)
	if p.Alpha == nil {
		return out
	}
	rows, cols := p.Alpha.Dims()
	for pi := 0; pi < rows; pi++ {
		ni := producerNodes[pi]
		for k := 0; k < cols && k < numNodes; k++ {
			out.Set(ni, k, out.At(ni, k)+p.Alpha.At(pi, k))
		}
	}
	return out
}
