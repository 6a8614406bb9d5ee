package network

// Node is one junction of the pipeline network. Demand is signed: positive
// values consume gas, negative values model contracted inflows. Pressure
// bounds are expressed in pressure-squared units, matching the Weymouth
// equation's natural variable.
type Node struct {
	ID              string  `json:"id"`
	Demand          float64 `json:"demand"`
	MinPressureSq   float64 `json:"min_pressure_sq"`
	MaxPressureSq   float64 `json:"max_pressure_sq"`
	Reference       bool    `json:"reference,omitempty"`
	GaugePressureSq float64 `json:"gauge_pressure_sq,omitempty"`
}

// Pipe is a directed edge. Active pipes host a compressor that adds a
// controllable boost to the pressure-squared drop; CompressionSide is +1
// when the compressor sits at the sending node and -1 at the receiving
// node. Passive pipes carry zero compression and may flow either way.
type Pipe struct {
	ID              string  `json:"id"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	Resistance      float64 `json:"resistance"`
	Active          bool    `json:"active,omitempty"`
	MinCompression  float64 `json:"min_compression,omitempty"`
	MaxCompression  float64 `json:"max_compression,omitempty"`
	CompressionSide int     `json:"compression_side,omitempty"`
}

// Producer is a gas source attached to a node with a convex quadratic
// production cost c2*inj^2 + c1*inj.
type Producer struct {
	ID           string  `json:"id"`
	Node         string  `json:"node"`
	CostQuad     float64 `json:"cost_quad"`
	CostLin      float64 `json:"cost_lin"`
	MinInjection float64 `json:"min_injection"`
	MaxInjection float64 `json:"max_injection"`
}

// Case is the raw, unvalidated description of a network as read from disk.
type Case struct {
	Name      string     `json:"name,omitempty"`
	Nodes     []Node     `json:"nodes"`
	Pipes     []Pipe     `json:"pipes"`
	Producers []Producer `json:"producers"`
}
