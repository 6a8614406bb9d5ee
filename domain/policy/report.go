package policy

import (
	"time"

	"gasplan/domain/core"
)

// ViolationCounts breaks out-of-sample bound crossings down by limit
// family.
type ViolationCounts struct {
	PressureHi    int `json:"pressure_hi"`
	PressureLo    int `json:"pressure_lo"`
	FlowSign      int `json:"flow_sign"`
	InjectionHi   int `json:"injection_hi"`
	InjectionLo   int `json:"injection_lo"`
	CompressionHi int `json:"compression_hi"`
	CompressionLo int `json:"compression_lo"`
}

// ValidationReport summarizes the Monte Carlo out-of-sample check of a
// policy.
type ValidationReport struct {
	Samples    int `json:"samples"`
	Violations int `json:"violations"`
	// ViolationRate is the share of samples with at least one bound
	// crossing beyond tolerance.
	ViolationRate float64 `json:"violation_rate"`
	// MaxViolation is the worst single bound exceedance seen.
	MaxViolation float64         `json:"max_violation"`
	Counts       ViolationCounts `json:"counts"`

	MeanCost float64 `json:"mean_cost"`
	StdCost  float64 `json:"std_cost"`
	CostP95  float64 `json:"cost_p95"`

	// MeanPressure holds per-node mean realized pressure (square-root
	// space, clamped at zero before the root).
	MeanPressure []float64 `json:"mean_pressure"`
}

// RevenueRow is one actor's earnings split across settlement channels.
type RevenueRow struct {
	Actor           string  `json:"actor"`
	NominalBalance  float64 `json:"nominal_balance"`
	RecourseBalance float64 `json:"recourse_balance"`
	NetworkLimit    float64 `json:"network_limit"`
	VarianceControl float64 `json:"variance_control"`
	Total           float64 `json:"total"`
}

// RevenueTable is the dual-based settlement decomposition: rows are actors
// (injection, compression, congestion rent), columns are price channels.
type RevenueTable struct {
	Rows []RevenueRow `json:"rows"`
}

// ProducerAccount is the per-producer economic summary priced off the
// balance and recourse duals.
type ProducerAccount struct {
	ID              string  `json:"id"`
	NominalRevenue  float64 `json:"nominal_revenue"`
	RecourseRevenue float64 `json:"recourse_revenue"`
	Cost            float64 `json:"cost"`
	Profit          float64 `json:"profit"`
}

// DualReport carries the optimality certificate and the economic reading of
// the dual solution.
type DualReport struct {
	PrimalObjective float64 `json:"primal_objective"`
	DualObjective   float64 `json:"dual_objective"`
	// DualityGap is |primal - dual| / max(1, |primal|).
	DualityGap float64 `json:"duality_gap"`
	// Stationarity is the infinity norm of the KKT stationarity residual.
	Stationarity float64 `json:"stationarity"`

	GapWarning          bool `json:"gap_warning"`
	StationarityWarning bool `json:"stationarity_warning"`

	// NodePrices restate the balance duals; RecoursePrices the recourse
	// identity duals per demand node.
	NodePrices     []float64 `json:"node_prices"`
	RecoursePrices []float64 `json:"recourse_prices"`

	Revenue   RevenueTable      `json:"revenue"`
	Producers []ProducerAccount `json:"producers"`
}

// ProjectionReport summarizes the feasibility-distance diagnostic: how far
// realized states sit from the deterministic feasible set.
type ProjectionReport struct {
	Attempted int `json:"attempted"`
	Solved    int `json:"solved"`
	// Skipped counts samples whose re-dispatch was infeasible or failed.
	Skipped int `json:"skipped"`

	MeanDistance float64 `json:"mean_distance"`
	MaxDistance  float64 `json:"max_distance"`
	P95Distance  float64 `json:"p95_distance"`
}

// RunReport is the complete artifact of one pipeline run.
type RunReport struct {
	RunID    core.RunID `json:"run_id"`
	Case     string     `json:"case"`
	Settings Settings   `json:"settings"`

	Operating     *OperatingPoint   `json:"operating"`
	Linearization *Linearization    `json:"linearization"`
	Policy        *Policy           `json:"policy"`
	Validation    *ValidationReport `json:"validation"`
	Dual          *DualReport       `json:"dual"`
	Projection    *ProjectionReport `json:"projection"`

	// Warnings aggregates the quality flags raised along the way; the
	// pipeline completes despite them.
	Warnings []string `json:"warnings,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
