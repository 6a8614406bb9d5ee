// Package linearize builds the first-order Weymouth model around a solved
// operating point and the gauge-reduced response matrices the stochastic
// stages consume. The flow coefficients come straight from the nominal
// backend's Jacobian; the nodal sensitivity is inverted after removing the
// reference row and column, since pinning the gauge is what makes it
// invertible at all.
package linearize

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/internal/nonconvex"
	"gasplan/ports"
)

const (
	// roundScale keeps six decimals on every published coefficient.
	roundScale = 1e6
	// slopeGuard floors the 2|flow| denominator near bifurcation points.
	slopeGuard = 1e-12
	// bifurcationLimit flags raw slopes that mean a pipe flow sits close
	// enough to zero for the local model to be untrustworthy.
	bifurcationLimit = 1e5
	// qualityLimit is the accepted nodal pressure-squared drift when the
	// linearized model is re-solved deterministically.
	qualityLimit = 1.0
	// inverseResidualLimit bounds |reduced*inv - I| for an acceptable
	// sensitivity inverse.
	inverseResidualLimit = 1e-6
)

// Linearizer runs the linearization stage. The conic backend is only used
// for the quality re-solve; passing nil skips that diagnostic.
type Linearizer struct {
	conic ports.ConicSolver
	log   *internal.Logger
}

func New(conic ports.ConicSolver) *Linearizer {
	return &Linearizer{conic: conic, log: internal.DefaultLogger.Tagged("Linearize")}
}

// Linearize derives flow coefficients from the backend Jacobian, inverts
// the gauge-reduced nodal sensitivity and assembles the response matrices.
func (lz *Linearizer) Linearize(ctx context.Context, net *network.NetworkData, op *policy.OperatingPoint, jac *ports.WeymouthJacobian) (*policy.Linearization, error) {
	nn := net.NumNodes()
	ne := net.NumPipes()
	if jac == nil || jac.DFlow == nil || jac.DPressure == nil {
		return nil, fmt.Errorf("linearize: incomplete jacobian")
	}
	if r, c := jac.DPressure.Dims(); r != ne || c != nn {
		return nil, fmt.Errorf("linearize: jacobian pressure block is %dx%d, want %dx%d", r, c, ne, nn)
	}
	if len(op.PressureSq) != nn || len(op.Flow) != ne || len(op.Compression) != ne {
		return nil, fmt.Errorf("linearize: operating point does not match network")
	}

	coeffP, coeffK, maxSens := lz.flowCoefficients(net, jac)
	intercept := lz.intercepts(op, coeffP, coeffK)

	mplus, err := pressureResponse(net, coeffP)
	if err != nil {
		return nil, err
	}

	// K maps compression changes to equivalent nodal injections: the
	// direct boost placement minus the flow feedback through the pipes.
	var coupling mat.Dense
	coupling.Mul(net.Incidence(), coeffK)
	coupling.Sub(net.CompressionInjection(), &coupling)

	// Composite flow responses against injections and compression.
	var respInj mat.Dense
	respInj.Mul(coeffP, mplus)

	var respComp mat.Dense
	respComp.Mul(&respInj, &coupling)
	respComp.Add(&respComp, coeffK)

	lin := &policy.Linearization{
		Intercept:           intercept,
		PressureCoeff:       coeffP,
		CompressionCoeff:    coeffK,
		PressureResponse:    mplus,
		CompressionCoupling: &coupling,
		FlowRespInjection:   &respInj,
		FlowRespCompression: &respComp,
		RefNode:             net.Ref,
		RefPressureSq:       net.Nodes[net.Ref].GaugePressureSq,
		MaxSensitivity:      maxSens,
		BifurcationRisk:     maxSens > bifurcationLimit,
	}
	if lin.BifurcationRisk {
		lz.log.Warn("bifurcation risk: max raw sensitivity %.3e exceeds %.0e (a pipe flow is near zero)", maxSens, bifurcationLimit)
	}

	if lz.conic != nil {
		lz.qualityCheck(ctx, net, op, lin)
	}
	return lin, nil
}

// flowCoefficients converts the residual-form Jacobian into explicit flow
// slopes: flow ~ intercept + coeffP*pressureSq + coeffK*compression. Raw
// magnitudes are tracked before rounding for the bifurcation diagnostic.
func (lz *Linearizer) flowCoefficients(net *network.NetworkData, jac *ports.WeymouthJacobian) (*mat.Dense, *mat.Dense, float64) {
	nn := net.NumNodes()
	ne := net.NumPipes()

	coeffP := mat.NewDense(ne, nn, nil)
	coeffK := mat.NewDense(ne, ne, nil)
	maxSens := 0.0

	denom := make([]float64, ne)
	for l := 0; l < ne; l++ {
		d := math.Abs(jac.DFlow.At(l, l))
		if d < slopeGuard {
			d = slopeGuard
		}
		denom[l] = d
	}

	for l := 0; l < ne; l++ {
		for i := 0; i < nn; i++ {
			raw := -jac.DPressure.At(l, i) / denom[l]
			if v := math.Abs(raw); v > maxSens {
				maxSens = v
			}
			coeffP.Set(l, i, roundCoeff(raw))
		}
	}
	if jac.DCompression != nil {
		for a, l := range net.ActivePipes {
			for row := 0; row < ne; row++ {
				raw := -jac.DCompression.At(row, a) / denom[row]
				if raw == 0 {
					continue
				}
				if v := math.Abs(raw); v > maxSens {
					maxSens = v
				}
				coeffK.Set(row, l, roundCoeff(raw))
			}
		}
	}
	return coeffP, coeffK, maxSens
}

// intercepts anchors the rounded coefficients at the operating point.
func (lz *Linearizer) intercepts(op *policy.OperatingPoint, coeffP, coeffK *mat.Dense) []float64 {
	ne := len(op.Flow)
	out := make([]float64, ne)
	for l := 0; l < ne; l++ {
		v := op.Flow[l]
		for i, th := range op.PressureSq {
			v -= coeffP.At(l, i) * th
		}
		for j, k := range op.Compression {
			v -= coeffK.At(l, j) * k
		}
		out[l] = roundCoeff(v)
	}
	return out
}

// pressureResponse inverts the gauge-reduced nodal sensitivity A*coeffP
// and reinflates it with a zero row and column at the reference node.
func pressureResponse(net *network.NetworkData, coeffP *mat.Dense) (*mat.Dense, error) {
	nn := net.NumNodes()
	var m mat.Dense
	m.Mul(net.Incidence(), coeffP)

	reduced := dropRefRowCol(&m, net.Ref)
	var lu mat.LU
	lu.Factorize(reduced)

	inv := mat.NewDense(nn-1, nn-1, nil)
	if err := lu.SolveTo(inv, false, identity(nn-1)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: %v", core.ErrSingularSensitivity, err)
		}
	}
	for i := 0; i < nn-1; i++ {
		for j := 0; j < nn-1; j++ {
			if v := inv.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: reduced sensitivity not invertible", core.ErrSingularSensitivity)
			}
		}
	}

	// An exactly singular factorization surfaces only as a condition
	// warning and leaves the solve unfilled, so check the inverse inverts.
	var resid mat.Dense
	resid.Mul(reduced, inv)
	resid.Sub(&resid, identity(nn-1))
	if mat.Norm(&resid, math.Inf(1)) > inverseResidualLimit {
		return nil, fmt.Errorf("%w: reduced sensitivity is singular", core.ErrSingularSensitivity)
	}
	return insertRefRowCol(inv, net.Ref), nil
}

// qualityCheck re-solves the deterministic dispatch under the linearized
// physics and records how far nodal pressures drift from the anchor.
func (lz *Linearizer) qualityCheck(ctx context.Context, net *network.NetworkData, op *policy.OperatingPoint, lin *policy.Linearization) {
	prog := nonconvex.BuildProgram(net)
	cp := linearProgram(net, prog, lin)

	sol, err := lz.conic.SolveConic(ctx, cp)
	if err != nil || !sol.Status.Converged() {
		status := "error"
		if err == nil {
			status = sol.Status.String()
		}
		lz.log.Warn("quality re-solve failed (%s); treating linearization as suspect", status)
		lin.QualityGap = math.NaN()
		lin.QualityWarning = true
		return
	}

	pOff, _, _ := prog.Vars.Range(nonconvex.GroupPressure)
	gap := 0.0
	for i := range op.PressureSq {
		if d := math.Abs(sol.X[pOff+i] - op.PressureSq[i]); d > gap {
			gap = d
		}
	}
	lin.QualityGap = gap
	lin.QualityWarning = gap > qualityLimit
	if lin.QualityWarning {
		lz.log.Warn("linearization quality gap %.3f pressure-squared units exceeds %.1f", gap, qualityLimit)
	} else {
		lz.log.Debug("linearization quality gap %.6f", gap)
	}
}

// linearProgram swaps the Weymouth rows of the nominal program for their
// linearized equalities, keeping objective, balance, gauge and bounds.
func linearProgram(net *network.NetworkData, prog *ports.FlowProgram, lin *policy.Linearization) *ports.ConicProgram {
	n := prog.Vars.Len()
	ne := net.NumPipes()
	pOff, _, _ := prog.Vars.Range(nonconvex.GroupPressure)
	fOff, _, _ := prog.Vars.Range(nonconvex.GroupFlow)
	kOff, _, _ := prog.Vars.Range(nonconvex.GroupCompression)

	a := mat.NewDense(ne, n, nil)
	b := make([]float64, ne)
	for l := 0; l < ne; l++ {
		a.Set(l, fOff+l, 1)
		for i := 0; i < net.NumNodes(); i++ {
			if c := lin.PressureCoeff.At(l, i); c != 0 {
				a.Set(l, pOff+i, -c)
			}
		}
		for idx, pipe := range net.ActivePipes {
			if c := lin.CompressionCoeff.At(l, pipe); c != 0 {
				a.Set(l, kOff+idx, -c)
			}
		}
		b[l] = lin.Intercept[l]
	}

	out := &ports.ConicProgram{
		NumVars: n,
		Q:       prog.Q,
		C:       prog.C,
		Offset:  prog.Offset,
	}
	out.Blocks = append(out.Blocks, prog.Blocks...)
	out.Blocks = append(out.Blocks, ports.EqualityBlock{Name: "flow_lin", A: a, B: b})

	for _, bd := range prog.Bounds {
		if !math.IsInf(bd.Lower, -1) {
			g := make([]float64, n)
			g[bd.Index] = 1
			out.Cones = append(out.Cones, ports.Cone{
				Name: fmt.Sprintf("lb[%d]", bd.Index),
				Kind: ports.KindLimit,
				G:    g,
				H:    -bd.Lower,
			})
		}
		if !math.IsInf(bd.Upper, 1) {
			g := make([]float64, n)
			g[bd.Index] = -1
			out.Cones = append(out.Cones, ports.Cone{
				Name: fmt.Sprintf("ub[%d]", bd.Index),
				Kind: ports.KindLimit,
				G:    g,
				H:    bd.Upper,
			})
		}
	}
	return out
}

func roundCoeff(v float64) float64 {
	return math.Round(v*roundScale) / roundScale
}

// dropRefRowCol copies m without row and column k.
func dropRefRowCol(m *mat.Dense, k int) *mat.Dense {
	n, _ := m.Dims()
	out := mat.NewDense(n-1, n-1, nil)
	for i, oi := 0, 0; i < n; i++ {
		if i == k {
			continue
		}
		for j, oj := 0, 0; j < n; j++ {
			if j == k {
				continue
			}
			out.Set(oi, oj, m.At(i, j))
			oj++
		}
		oi++
	}
	return out
}

// insertRefRowCol reinflates a reduced matrix with a zero row and column
// at index k.
func insertRefRowCol(m *mat.Dense, k int) *mat.Dense {
	n, _ := m.Dims()
	out := mat.NewDense(n+1, n+1, nil)
	for i, oi := 0, 0; i < n+1; i++ {
		if i == k {
			continue
		}
		for j, oj := 0, 0; j < n+1; j++ {
			if j == k {
				continue
			}
			out.Set(i, j, m.At(oi, oj))
			oj++
		}
		oi++
	}
	return out
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
