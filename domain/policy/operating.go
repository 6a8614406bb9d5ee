package policy

// OperatingPoint is the solved nominal state of the network: the fixed
// point of the non-convex flow model around which everything downstream is
// linearized.
type OperatingPoint struct {
	// PressureSq holds per-node pressure-squared values.
	PressureSq []float64 `json:"pressure_sq"`
	// Flow holds per-pipe flows, signed by pipe orientation.
	Flow []float64 `json:"flow"`
	// Compression holds per-pipe boosts; zero at passive pipes.
	Compression []float64 `json:"compression"`
	// Injection holds per-producer nominal production.
	Injection []float64 `json:"injection"`
	// Objective is the nominal production cost.
	Objective float64 `json:"objective"`
	// Iterations counts outer linearization rounds of the nominal solve.
	Iterations int `json:"iterations"`
	// Residual is the worst absolute Weymouth mismatch at the point.
	Residual float64 `json:"residual"`
}
