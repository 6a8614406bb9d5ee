package policy

import "gonum.org/v1/gonum/mat"

// Linearization captures the first-order model of the Weymouth physics
// around an operating point, plus the gauge-reduced response matrices the
// stochastic stages consume. Coefficient conventions: for pipe l,
//
//	flow_l ~ Intercept_l + PressureCoeff[l,:]*pressureSq + CompressionCoeff[l,:]*compression
//
// and for the network state as a function of disturbances,
//
//	dPressureSq = PressureResponse*(dInjection + CompressionCoupling*dCompression - dDemand)
//	dFlow       = FlowRespInjection*dInjection + FlowRespCompression*dCompression - FlowRespInjection*dDemand
//
// with the reference node's pressure pinned (its response row is zero).
type Linearization struct {
	// Intercept is the constant linearization term per pipe.
	Intercept []float64 `json:"intercept"`
	// PressureCoeff (pipe x node) multiplies nodal pressure-squared.
	PressureCoeff *mat.Dense `json:"-"`
	// CompressionCoeff (pipe x pipe) multiplies compression; columns at
	// passive pipes are zero.
	CompressionCoeff *mat.Dense `json:"-"`
	// PressureResponse (node x node) is the gauge-reduced inverse of the
	// nodal sensitivity, reinflated with a zero row and column at the
	// reference node.
	PressureResponse *mat.Dense `json:"-"`
	// CompressionCoupling (node x pipe) maps compression changes to
	// equivalent nodal injections, combining direct boost injection with
	// the flow feedback term.
	CompressionCoupling *mat.Dense `json:"-"`
	// FlowRespInjection (pipe x node) and FlowRespCompression (pipe x pipe)
	// are the composite flow-response matrices.
	FlowRespInjection   *mat.Dense `json:"-"`
	FlowRespCompression *mat.Dense `json:"-"`

	// RefNode and RefPressureSq restate the gauge.
	RefNode       int     `json:"ref_node"`
	RefPressureSq float64 `json:"ref_pressure_sq"`

	// MaxSensitivity is the largest raw coefficient magnitude before
	// rounding; BifurcationRisk is set when it crosses the near-singular
	// threshold (flows near zero make the local model explode).
	MaxSensitivity  float64 `json:"max_sensitivity"`
	BifurcationRisk bool    `json:"bifurcation_risk"`

	// QualityGap is the largest nodal pressure-squared deviation between
	// the anchor point and a deterministic re-solve of the linearized
	// model; QualityWarning flags a gap above one pressure-squared unit.
	QualityGap     float64 `json:"quality_gap"`
	QualityWarning bool    `json:"quality_warning"`
}
