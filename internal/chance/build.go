package chance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal/forecast"
	"gasplan/internal/nonconvex"
	"gasplan/ports"
)

// Variable groups beyond the nominal four. Alpha and beta are stored
// row-major: entry p*d+k is producer (or active pipe) p's response to the
// demand error at demand node k.
const (
	GroupAlpha          = "alpha"
	GroupBeta           = "beta"
	GroupPressureSpread = "pressure_spread"
	GroupFlowSpread     = "flow_spread"
	GroupCost           = "cost"
)

// Assembly records the layout of a built program so policy extraction and
// dual analysis address exactly the structure the solver saw.
type Assembly struct {
	Vars *ports.VariableMap
	// Z is the safety factor folded into every limit cone; zero means the
	// program is the deterministic dispatch.
	Z float64
	// Count is the number of chance limits sharing the violation budget.
	Count int
	// Dim is the number of uncertain demand nodes.
	Dim int
	// Factor is the Dim-by-Dim lower Cholesky factor of the demand-node
	// covariance; nil when the program is deterministic.
	Factor *mat.Dense
}

// Deterministic reports whether uncertainty was folded away entirely.
func (a *Assembly) Deterministic() bool { return a.Z == 0 || a.Factor == nil }

// Build assembles the chance-constrained dispatch as a conic program:
//
//	min  sum_p t_p + c1'inj + presPenalty*s_th + flowPenalty*s_ph
//	s.t. balance, linearized flow, gauge pin, recourse identity
//	     limit cones    value +/- z*std(value) within bounds
//	     variance cones s_th >= ||pressure response||, s_ph >= ||flow response||
//	     cost cones     t_p >= c2*(inj_p^2 + var(recourse_p))
//
// Build is deliberately a pure function of its inputs: the dual analysis
// replays it to score a stored policy against the same program.
func Build(net *network.NetworkData, lin *policy.Linearization, model *forecast.Model, set policy.Settings) (*ports.ConicProgram, *Assembly, error) {
	if lin == nil || lin.PressureResponse == nil {
		return nil, nil, fmt.Errorf("chance: linearization missing response matrices")
	}
	if model == nil {
		return nil, nil, fmt.Errorf("chance: uncertainty model required")
	}

	nn := net.NumNodes()
	ne := net.NumPipes()
	na := net.NumActive()
	np := net.NumProducers()
	d := net.NumDemand()

	vars := ports.NewVariableMap()
	iOff := vars.Add(nonconvex.GroupInjection, np)
	pOff := vars.Add(nonconvex.GroupPressure, nn)
	fOff := vars.Add(nonconvex.GroupFlow, ne)
	kOff := vars.Add(nonconvex.GroupCompression, na)
	aOff := vars.Add(GroupAlpha, np*d)
	bOff := vars.Add(GroupBeta, na*d)
	sthOff := vars.Add(GroupPressureSpread, 1)
	sphOff := vars.Add(GroupFlowSpread, 1)
	tOff := vars.Add(GroupCost, np)
	total := vars.Len()

	asm := &Assembly{Vars: vars, Count: ChanceCount(net), Dim: d}
	if !set.Deterministic && !model.Zero() {
		asm.Z = SafetyFactor(set.ViolationBudget, asm.Count)
		asm.Factor = demandFactor(net, model)
	}

	cb := &coneBuilder{net: net, lin: lin, asm: asm, total: total,
		iOff: iOff, pOff: pOff, fOff: fOff, kOff: kOff, aOff: aOff, bOff: bOff}
	if !asm.Deterministic() {
		cb.boostResp = matProduct(lin.PressureResponse, lin.CompressionCoupling)
	}

	prog := &ports.ConicProgram{
		NumVars: total,
		C:       make([]float64, total),
	}
	for p, prod := range net.Producers {
		prog.C[iOff+p] = prod.CostLin
		prog.C[tOff+p] = 1
	}
	prog.C[sthOff] = set.PressurePenalty
	prog.C[sphOff] = set.FlowPenalty

	prog.Blocks = buildBlocks(net, lin, vars, iOff, pOff, fOff, kOff, aOff, bOff)

	// Limit cones: one per chance constraint, z folded into the vector so
	// the deterministic program degrades to plain linear bounds.
	for i, node := range net.Nodes {
		v, v0 := cb.pressureStd(i, asm.Z)
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("pressure_hi[%d]", i), Kind: ports.KindLimit,
				G: unit(total, pOff+i, -1), H: node.MaxPressureSq, V: v, V0: v0},
			ports.Cone{Name: fmt.Sprintf("pressure_lo[%d]", i), Kind: ports.KindLimit,
				G: unit(total, pOff+i, 1), H: -node.MinPressureSq, V: cloneDense(v), V0: cloneSlice(v0)})
	}
	for a, l := range net.ActivePipes {
		v, v0 := cb.flowStd(l, asm.Z)
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("flow_sign[%d]", a), Kind: ports.KindLimit,
				G: unit(total, fOff+l, 1), H: 0, V: v, V0: v0})
	}
	for p, prod := range net.Producers {
		v, v0 := cb.injectionStd(p, asm.Z)
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("injection_hi[%d]", p), Kind: ports.KindLimit,
				G: unit(total, iOff+p, -1), H: prod.MaxInjection, V: v, V0: v0},
			ports.Cone{Name: fmt.Sprintf("injection_lo[%d]", p), Kind: ports.KindLimit,
				G: unit(total, iOff+p, 1), H: -prod.MinInjection, V: cloneDense(v), V0: cloneSlice(v0)})
	}
	for a, l := range net.ActivePipes {
		pipe := net.Pipes[l]
		v, v0 := cb.compressionStd(a, asm.Z)
		prog.Cones = append(prog.Cones,
			ports.Cone{Name: fmt.Sprintf("compression_hi[%d]", a), Kind: ports.KindLimit,
				G: unit(total, kOff+a, -1), H: pipe.MaxCompression, V: v, V0: v0},
			ports.Cone{Name: fmt.Sprintf("compression_lo[%d]", a), Kind: ports.KindLimit,
				G: unit(total, kOff+a, 1), H: -pipe.MinCompression, V: cloneDense(v), V0: cloneSlice(v0)})
	}

	// Dispersion epigraphs: unscaled response norms across all nodes and
	// all pipes.
	pv, pv0 := cb.stackedStd(nn, cb.pressureStd)
	prog.Cones = append(prog.Cones, ports.Cone{
		Name: GroupPressureSpread, Kind: ports.KindVariance,
		G: unit(total, sthOff, 1), H: 0, V: pv, V0: pv0,
	})
	fv, fv0 := cb.stackedStd(ne, cb.flowStd)
	prog.Cones = append(prog.Cones, ports.Cone{
		Name: GroupFlowSpread, Kind: ports.KindVariance,
		G: unit(total, sphOff, 1), H: 0, V: fv, V0: fv0,
	})

	// Expected-cost epigraphs via the standard rotated-cone embedding:
	// ||(2*sqrt(c2)*inj; 2*sqrt(c2)*L'alpha_p; t_p-1)|| <= t_p+1.
	for p, prod := range net.Producers {
		prog.Cones = append(prog.Cones, cb.costCone(p, prod, tOff))
	}

	return prog, asm, nil
}

// buildBlocks assembles the four equality families.
func buildBlocks(net *network.NetworkData, lin *policy.Linearization, vars *ports.VariableMap, iOff, pOff, fOff, kOff, aOff, bOff int) []ports.EqualityBlock {
	nn := net.NumNodes()
	ne := net.NumPipes()
	d := net.NumDemand()
	total := vars.Len()

	bal := mat.NewDense(nn, total, nil)
	for p, node := range net.ProducerNodes {
		bal.Set(node, iOff+p, 1)
	}
	for a, l := range net.ActivePipes {
		bal.Set(net.InjectionNode(l), kOff+a, float64(net.Pipes[l].CompressionSide))
	}
	for l := range net.Pipes {
		from, to := net.Endpoints(l)
		bal.Set(from, fOff+l, bal.At(from, fOff+l)-1)
		bal.Set(to, fOff+l, bal.At(to, fOff+l)+1)
	}

	flowLin := mat.NewDense(ne, total, nil)
	intercepts := make([]float64, ne)
	for l := 0; l < ne; l++ {
		flowLin.Set(l, fOff+l, 1)
		for i := 0; i < nn; i++ {
			if c := lin.PressureCoeff.At(l, i); c != 0 {
				flowLin.Set(l, pOff+i, -c)
			}
		}
		for a, pipe := range net.ActivePipes {
			if c := lin.CompressionCoeff.At(l, pipe); c != 0 {
				flowLin.Set(l, kOff+a, -c)
			}
		}
		intercepts[l] = lin.Intercept[l]
	}

	ref := mat.NewDense(1, total, nil)
	ref.Set(0, pOff+net.Ref, 1)

	blocks := []ports.EqualityBlock{
		{Name: "balance", A: bal, B: net.Demands()},
		{Name: "flow_lin", A: flowLin, B: intercepts},
		{Name: "ref", A: ref, B: []float64{net.Nodes[net.Ref].GaugePressureSq}},
	}

	// Recourse identity: realized error at each demand node is fully
	// covered by producer response plus signed compression response.
	if d > 0 {
		rec := mat.NewDense(d, total, nil)
		ones := make([]float64, d)
		for k := 0; k < d; k++ {
			for p := 0; p < net.NumProducers(); p++ {
				rec.Set(k, aOff+p*d+k, 1)
			}
			for a, l := range net.ActivePipes {
				rec.Set(k, bOff+a*d+k, float64(net.Pipes[l].CompressionSide))
			}
			ones[k] = 1
		}
		blocks = append(blocks, ports.EqualityBlock{Name: "recourse", A: rec, B: ones})
	}
	return blocks
}

// coneBuilder derives standard-deviation cone rows from the response
// matrices. Every std is ||L' t|| for a demand-space functional t that is
// affine in the alpha/beta variables.
type coneBuilder struct {
	net   *network.NetworkData
	lin   *policy.Linearization
	asm   *Assembly
	total int

	// boostResp caches PressureResponse*CompressionCoupling.
	boostResp *mat.Dense

	iOff, pOff, fOff, kOff, aOff, bOff int
}

// pressureStd builds scale*L'*theta-response rows for node i. Returns
// (nil, nil) in deterministic mode or when the response row is inert.
func (cb *coneBuilder) pressureStd(i int, scale float64) (*mat.Dense, []float64) {
	if cb.asm.Deterministic() || scale == 0 {
		return nil, nil
	}
	d := cb.asm.Dim
	mp := cb.lin.PressureResponse
	mk := cb.boostResp

	v := mat.NewDense(d, cb.total, nil)
	v0 := make([]float64, d)
	for j := 0; j < d; j++ {
		for k := 0; k < d; k++ {
			lkj := cb.asm.Factor.At(k, j)
			if lkj == 0 {
				continue
			}
			for p, node := range cb.net.ProducerNodes {
				if c := mp.At(i, node); c != 0 {
					v.Set(j, cb.aOff+p*d+k, v.At(j, cb.aOff+p*d+k)+scale*lkj*c)
				}
			}
			for a, l := range cb.net.ActivePipes {
				if c := mk.At(i, l); c != 0 {
					v.Set(j, cb.bOff+a*d+k, v.At(j, cb.bOff+a*d+k)+scale*lkj*c)
				}
			}
			v0[j] -= scale * lkj * mp.At(i, cb.net.DemandNodes[k])
		}
	}
	return v, v0
}

// flowStd builds scale*L'*flow-response rows for pipe l.
func (cb *coneBuilder) flowStd(l int, scale float64) (*mat.Dense, []float64) {
	if cb.asm.Deterministic() || scale == 0 {
		return nil, nil
	}
	d := cb.asm.Dim
	fp := cb.lin.FlowRespInjection
	fk := cb.lin.FlowRespCompression

	v := mat.NewDense(d, cb.total, nil)
	v0 := make([]float64, d)
	for j := 0; j < d; j++ {
		for k := 0; k < d; k++ {
			lkj := cb.asm.Factor.At(k, j)
			if lkj == 0 {
				continue
			}
			for p, node := range cb.net.ProducerNodes {
				if c := fp.At(l, node); c != 0 {
					v.Set(j, cb.aOff+p*d+k, v.At(j, cb.aOff+p*d+k)+scale*lkj*c)
				}
			}
			for a, pipe := range cb.net.ActivePipes {
				if c := fk.At(l, pipe); c != 0 {
					v.Set(j, cb.bOff+a*d+k, v.At(j, cb.bOff+a*d+k)+scale*lkj*c)
				}
			}
			v0[j] -= scale * lkj * fp.At(l, cb.net.DemandNodes[k])
		}
	}
	return v, v0
}

// injectionStd builds scale*L'*alpha_p rows; the constant part is zero.
func (cb *coneBuilder) injectionStd(p int, scale float64) (*mat.Dense, []float64) {
	if cb.asm.Deterministic() || scale == 0 {
		return nil, nil
	}
	d := cb.asm.Dim
	v := mat.NewDense(d, cb.total, nil)
	for j := 0; j < d; j++ {
		for k := 0; k < d; k++ {
			if lkj := cb.asm.Factor.At(k, j); lkj != 0 {
				v.Set(j, cb.aOff+p*d+k, scale*lkj)
			}
		}
	}
	return v, make([]float64, d)
}

// compressionStd builds scale*L'*beta_a rows.
func (cb *coneBuilder) compressionStd(a int, scale float64) (*mat.Dense, []float64) {
	if cb.asm.Deterministic() || scale == 0 {
		return nil, nil
	}
	d := cb.asm.Dim
	v := mat.NewDense(d, cb.total, nil)
	for j := 0; j < d; j++ {
		for k := 0; k < d; k++ {
			if lkj := cb.asm.Factor.At(k, j); lkj != 0 {
				v.Set(j, cb.bOff+a*d+k, scale*lkj)
			}
		}
	}
	return v, make([]float64, d)
}

// stackedStd stacks unscaled std rows for rows 0..count-1 into one tall
// cone matrix (the dispersion epigraph body).
func (cb *coneBuilder) stackedStd(count int, rowStd func(int, float64) (*mat.Dense, []float64)) (*mat.Dense, []float64) {
	if cb.asm.Deterministic() {
		return nil, nil
	}
	d := cb.asm.Dim
	v := mat.NewDense(count*d, cb.total, nil)
	v0 := make([]float64, count*d)
	for i := 0; i < count; i++ {
		bv, bv0 := rowStd(i, 1)
		if bv == nil {
			continue
		}
		for j := 0; j < d; j++ {
			for c := 0; c < cb.total; c++ {
				if x := bv.At(j, c); x != 0 {
					v.Set(i*d+j, c, x)
				}
			}
			v0[i*d+j] = bv0[j]
		}
	}
	return v, v0
}

// costCone is the rotated-cone embedding of producer p's expected cost.
func (cb *coneBuilder) costCone(p int, prod network.Producer, tOff int) ports.Cone {
	d := 0
	if !cb.asm.Deterministic() {
		d = cb.asm.Dim
	}
	rows := 2 + d
	v := mat.NewDense(rows, cb.total, nil)
	v0 := make([]float64, rows)

	root := 2 * math.Sqrt(prod.CostQuad)
	v.Set(0, cb.iOff+p, root)
	for j := 0; j < d; j++ {
		for k := 0; k < d; k++ {
			if lkj := cb.asm.Factor.At(k, j); lkj != 0 {
				v.Set(1+j, cb.aOff+p*d+k, root*lkj)
			}
		}
	}
	v.Set(rows-1, tOff+p, 1)
	v0[rows-1] = -1

	return ports.Cone{
		Name: fmt.Sprintf("cost[%d]", p),
		Kind: ports.KindCost,
		G:    unit(cb.total, tOff+p, 1),
		H:    1,
		V:    v,
		V0:   v0,
	}
}

// demandFactor extracts the demand-node rows of the full loading matrix,
// giving the dense lower Cholesky factor in demand coordinates.
func demandFactor(net *network.NetworkData, model *forecast.Model) *mat.Dense {
	d := net.NumDemand()
	out := mat.NewDense(d, d, nil)
	for k, node := range net.DemandNodes {
		for j := 0; j < d; j++ {
			out.Set(k, j, model.Factor.At(node, j))
		}
	}
	return out
}

func matProduct(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

func unit(n, idx int, sign float64) []float64 {
	g := make([]float64, n)
	g[idx] = sign
	return g
}

func cloneDense(m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	return mat.DenseCopyOf(m)
}

func cloneSlice(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}
