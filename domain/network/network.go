package network

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gasplan/domain/core"
)

// NetworkData is the validated, immutable form of a Case. All downstream
// stages index nodes, pipes and producers by position in these slices, so
// the ordering fixed here is the ordering everywhere.
type NetworkData struct {
	Name      string
	Nodes     []Node
	Pipes     []Pipe
	Producers []Producer

	// Ref is the index of the reference node whose pressure-squared value
	// pins the gauge.
	Ref int
	// ActivePipes lists pipe indices that carry a compressor, in pipe order.
	ActivePipes []int
	// DemandNodes lists node indices with strictly positive demand, in node
	// order. Demand uncertainty lives only on these nodes.
	DemandNodes []int
	// ProducerNodes maps producer index to its node index.
	ProducerNodes []int

	nodeIdx   map[string]int
	pipeIdx   map[string]int
	incidence *mat.Dense
	injection *mat.Dense
}

// Build validates a Case and assembles the index structures and constant
// matrices every stage shares.
func Build(c Case) (*NetworkData, error) {
	if len(c.Nodes) == 0 {
		return nil, core.NewTopologyError("case", "no nodes")
	}
	if len(c.Pipes) == 0 {
		return nil, core.NewTopologyError("case", "no pipes")
	}

	n := &NetworkData{
		Name:      c.Name,
		Nodes:     append([]Node(nil), c.Nodes...),
		Pipes:     append([]Pipe(nil), c.Pipes...),
		Producers: append([]Producer(nil), c.Producers...),
		Ref:       -1,
		nodeIdx:   make(map[string]int, len(c.Nodes)),
		pipeIdx:   make(map[string]int, len(c.Pipes)),
	}

	for i, nd := range n.Nodes {
		if nd.ID == "" {
			return nil, core.NewTopologyError("node", "empty id")
		}
		if _, dup := n.nodeIdx[nd.ID]; dup {
			return nil, core.NewTopologyError("node "+nd.ID, "duplicate id")
		}
		n.nodeIdx[nd.ID] = i

		if nd.MinPressureSq < 0 || nd.MaxPressureSq <= nd.MinPressureSq {
			return nil, core.NewTopologyError("node "+nd.ID, "pressure-squared bounds must satisfy 0 <= min < max")
		}
		if nd.Reference {
			if n.Ref >= 0 {
				return nil, core.NewTopologyError("node "+nd.ID, "second reference node")
			}
			n.Ref = i
			if nd.GaugePressureSq < nd.MinPressureSq || nd.GaugePressureSq > nd.MaxPressureSq {
				return nil, core.NewTopologyError("node "+nd.ID, "gauge pressure-squared outside its bounds")
			}
		}
		if nd.Demand > 0 {
			n.DemandNodes = append(n.DemandNodes, i)
		}
	}
	if n.Ref < 0 {
		return nil, core.NewTopologyError("case", "no reference node")
	}

	for l, p := range n.Pipes {
		if p.ID == "" {
			return nil, core.NewTopologyError("pipe", "empty id")
		}
		if _, dup := n.pipeIdx[p.ID]; dup {
			return nil, core.NewTopologyError("pipe "+p.ID, "duplicate id")
		}
		n.pipeIdx[p.ID] = l

		if _, ok := n.nodeIdx[p.From]; !ok {
			return nil, core.NewTopologyError("pipe "+p.ID, "unknown sending node "+p.From)
		}
		if _, ok := n.nodeIdx[p.To]; !ok {
			return nil, core.NewTopologyError("pipe "+p.ID, "unknown receiving node "+p.To)
		}
		if p.From == p.To {
			return nil, core.NewTopologyError("pipe "+p.ID, "self loop")
		}
		if p.Resistance <= 0 || math.IsNaN(p.Resistance) || math.IsInf(p.Resistance, 0) {
			return nil, core.NewTopologyError("pipe "+p.ID, "resistance must be positive and finite")
		}
		if p.Active {
			if p.CompressionSide != 1 && p.CompressionSide != -1 {
				return nil, core.NewTopologyError("pipe "+p.ID, "active pipe needs compression side +1 or -1")
			}
			if p.MinCompression < 0 || p.MaxCompression < p.MinCompression {
				return nil, core.NewTopologyError("pipe "+p.ID, "compression bounds must satisfy 0 <= min <= max")
			}
			n.ActivePipes = append(n.ActivePipes, l)
		} else {
			// Normalize so passive pipes carry no compression state at all.
			n.Pipes[l].MinCompression = 0
			n.Pipes[l].MaxCompression = 0
			n.Pipes[l].CompressionSide = 0
		}
	}

	for _, pr := range n.Producers {
		if pr.ID == "" {
			return nil, core.NewTopologyError("producer", "empty id")
		}
		ni, ok := n.nodeIdx[pr.Node]
		if !ok {
			return nil, core.NewTopologyError("producer "+pr.ID, "unknown node "+pr.Node)
		}
		if pr.CostQuad < 0 {
			return nil, core.NewTopologyError("producer "+pr.ID, "quadratic cost must be nonnegative")
		}
		if pr.MinInjection < 0 || pr.MaxInjection < pr.MinInjection {
			return nil, core.NewTopologyError("producer "+pr.ID, "injection bounds must satisfy 0 <= min <= max")
		}
		n.ProducerNodes = append(n.ProducerNodes, ni)
	}

	if err := n.checkConnected(); err != nil {
		return nil, err
	}

	n.incidence = buildIncidence(n)
	n.injection = buildInjection(n)
	return n, nil
}

// checkConnected rejects disconnected networks early; a disconnected graph
// would otherwise surface later as a singular pressure response.
func (n *NetworkData) checkConnected() error {
	parent := make([]int, len(n.Nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for _, p := range n.Pipes {
		a := find(n.nodeIdx[p.From])
		b := find(n.nodeIdx[p.To])
		if a != b {
			parent[a] = b
		}
	}
	root := find(0)
	for i := range n.Nodes {
		if find(i) != root {
			return core.NewTopologyError("node "+n.Nodes[i].ID, "not connected to the reference component")
		}
	}
	return nil
}

// NodeIndex resolves a node ID to its position.
func (n *NetworkData) NodeIndex(id string) (int, bool) {
	i, ok := n.nodeIdx[id]
	return i, ok
}

// PipeIndex resolves a pipe ID to its position.
func (n *NetworkData) PipeIndex(id string) (int, bool) {
	l, ok := n.pipeIdx[id]
	return l, ok
}

func (n *NetworkData) NumNodes() int     { return len(n.Nodes) }
func (n *NetworkData) NumPipes() int     { return len(n.Pipes) }
func (n *NetworkData) NumProducers() int { return len(n.Producers) }
func (n *NetworkData) NumActive() int    { return len(n.ActivePipes) }
func (n *NetworkData) NumDemand() int    { return len(n.DemandNodes) }

// Endpoints returns the node indices of pipe l as (sending, receiving).
func (n *NetworkData) Endpoints(l int) (int, int) {
	return n.nodeIdx[n.Pipes[l].From], n.nodeIdx[n.Pipes[l].To]
}

// InjectionNode returns the node index where pipe l's compressor injects its
// boost, or -1 for passive pipes.
func (n *NetworkData) InjectionNode(l int) int {
	p := n.Pipes[l]
	if !p.Active {
		return -1
	}
	if p.CompressionSide > 0 {
		return n.nodeIdx[p.From]
	}
	return n.nodeIdx[p.To]
}

// Demands returns a copy of the signed nodal demand vector.
func (n *NetworkData) Demands() []float64 {
	d := make([]float64, len(n.Nodes))
	for i, nd := range n.Nodes {
		d[i] = nd.Demand
	}
	return d
}
