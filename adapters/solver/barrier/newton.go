package barrier

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gasplan/ports"
)

type blockSpan struct {
	name string
	off  int
	len  int
}

type coneData struct {
	g  []float64
	h  float64
	v  *mat.Dense // nil when the cone has no vector rows
	v0 []float64
}

// workspace holds the stacked, validated form of a program.
type workspace struct {
	n      int
	q      *mat.SymDense
	c      []float64
	offset float64

	aeq    *mat.Dense
	beq    []float64
	mEq    int
	blocks []blockSpan

	cones []coneData
	names []string
}

func newWorkspace(prog *ports.ConicProgram) (*workspace, error) {
	n := prog.NumVars
	if n <= 0 {
		return nil, validateDims("variables", n, 1)
	}
	if err := validateDims("C", len(prog.C), n); err != nil {
		return nil, err
	}
	if prog.Q != nil {
		if r := prog.Q.SymmetricDim(); r != n {
			return nil, validateDims("Q", r, n)
		}
	}

	ws := &workspace{
		n:      n,
		q:      prog.Q,
		c:      append([]float64(nil), prog.C...),
		offset: prog.Offset,
	}

	mEq := 0
	for _, b := range prog.Blocks {
		r, cc := b.A.Dims()
		if cc != n {
			return nil, validateDims("block "+b.Name+" columns", cc, n)
		}
		if err := validateDims("block "+b.Name+" rhs", len(b.B), r); err != nil {
			return nil, err
		}
		ws.blocks = append(ws.blocks, blockSpan{name: b.Name, off: mEq, len: r})
		mEq += r
	}
	ws.mEq = mEq
	if mEq > 0 {
		ws.aeq = mat.NewDense(mEq, n, nil)
		ws.beq = make([]float64, mEq)
		row := 0
		for _, b := range prog.Blocks {
			r, _ := b.A.Dims()
			for i := 0; i < r; i++ {
				for j := 0; j < n; j++ {
					ws.aeq.Set(row, j, b.A.At(i, j))
				}
				ws.beq[row] = b.B[i]
				row++
			}
		}
	}

	for _, cn := range prog.Cones {
		if err := validateDims("cone "+cn.Name+" slack row", len(cn.G), n); err != nil {
			return nil, err
		}
		cd := coneData{
			g:  append([]float64(nil), cn.G...),
			h:  cn.H,
			v0: append([]float64(nil), cn.V0...),
		}
		if cn.V != nil {
			r, cc := cn.V.Dims()
			if cc != n {
				return nil, validateDims("cone "+cn.Name+" columns", cc, n)
			}
			if err := validateDims("cone "+cn.Name+" offset", len(cn.V0), r); err != nil {
				return nil, err
			}
			cd.v = mat.DenseCopyOf(cn.V)
		}
		ws.cones = append(ws.cones, cd)
		ws.names = append(ws.names, cn.Name)
	}
	return ws, nil
}

// equalityPoint returns a least-norm solution of the stacked equalities,
// or ok=false when they are inconsistent.
func (ws *workspace) equalityPoint() ([]float64, bool) {
	x := make([]float64, ws.n)
	if ws.mEq == 0 {
		return x, true
	}
	var sol mat.Dense
	if err := sol.Solve(ws.aeq, mat.NewVecDense(ws.mEq, append([]float64(nil), ws.beq...))); err != nil {
		return nil, false
	}
	for i := 0; i < ws.n; i++ {
		x[i] = sol.At(i, 0)
	}
	// A least-squares answer to an inconsistent system is not a solution;
	// check the residual.
	res := ws.equalityResidual(x)
	if res > 1e-7*(1+floats.Norm(ws.beq, math.Inf(1))) {
		return nil, false
	}
	return x, true
}

// equalityResidual is the worst-case violation of the stacked equalities.
func (ws *workspace) equalityResidual(x []float64) float64 {
	worst := 0.0
	for i := 0; i < ws.mEq; i++ {
		sum := -ws.beq[i]
		for j := 0; j < ws.n; j++ {
			sum += ws.aeq.At(i, j) * x[j]
		}
		if a := math.Abs(sum); a > worst {
			worst = a
		}
	}
	return worst
}

// coneValue evaluates cone i at x: slack, vector norm and the vector
// itself (nil when the cone has no vector part).
func (ws *workspace) coneValue(i int, x []float64) (slack, norm float64, vec []float64) {
	cd := &ws.cones[i]
	slack = cd.h + floats.Dot(cd.g, x)
	if cd.v == nil && len(cd.v0) == 0 {
		return slack, 0, nil
	}
	rows := len(cd.v0)
	vec = make([]float64, rows)
	copy(vec, cd.v0)
	if cd.v != nil {
		for r := 0; r < rows; r++ {
			vec[r] += floats.Dot(cd.v.RawRowView(r), x)
		}
	}
	return slack, floats.Norm(vec, 2), vec
}

// qRow fills dst with row i of Q.
func (ws *workspace) qRow(i int, dst []float64) {
	for j := 0; j < ws.n; j++ {
		dst[j] = ws.q.At(i, j)
	}
}

// objective is 0.5 x'Qx + c'x + offset.
func (ws *workspace) objective(x []float64) float64 {
	v := ws.offset + floats.Dot(ws.c, x)
	if ws.q != nil {
		row := make([]float64, ws.n)
		acc := 0.0
		for i := 0; i < ws.n; i++ {
			ws.qRow(i, row)
			acc += x[i] * floats.Dot(row, x)
		}
		v += 0.5 * acc
	}
	return v
}

// barrierValue is t*f0(x) - sum log(slack^2 - |vec|^2), +Inf outside the
// domain.
func (ws *workspace) barrierValue(x []float64, t float64) (float64, bool) {
	v := t * ws.objective(x)
	for i := range ws.cones {
		sl, nrm, _ := ws.coneValue(i, x)
		gap := sl*sl - nrm*nrm
		if sl <= 0 || gap <= 0 {
			return math.Inf(1), false
		}
		v -= math.Log(gap)
	}
	return v, true
}

// gradHess assembles the gradient and Hessian of the barrier function at x.
func (ws *workspace) gradHess(x []float64, t float64) ([]float64, *mat.Dense) {
	n := ws.n
	grad := make([]float64, n)
	hess := mat.NewDense(n, n, nil)

	// Objective part.
	for j := 0; j < n; j++ {
		grad[j] = t * ws.c[j]
	}
	if ws.q != nil {
		row := make([]float64, n)
		for i := 0; i < n; i++ {
			ws.qRow(i, row)
			grad[i] += t * floats.Dot(row, x)
			for j := 0; j < n; j++ {
				hess.Set(i, j, t*row[j])
			}
		}
	}

	// Cone barriers: for gap = s^2 - |w|^2,
	//   grad += (2/gap) (V'w - s g)
	//   hess += (2/gap)(V'V - g g') + (4/gap^2) (s g - V'w)(s g - V'w)'
	outer := make([]float64, n)
	for i := range ws.cones {
		cd := &ws.cones[i]
		sl, nrm, vec := ws.coneValue(i, x)
		gap := sl*sl - nrm*nrm

		// outer = s*g - V'w
		for j := 0; j < n; j++ {
			outer[j] = sl * cd.g[j]
		}
		if cd.v != nil && vec != nil {
			for r := 0; r < len(vec); r++ {
				floats.AddScaled(outer, -vec[r], cd.v.RawRowView(r))
			}
		}

		inv := 2 / gap
		floats.AddScaled(grad, -inv, outer)

		inv2 := 4 / (gap * gap)
		for a := 0; a < n; a++ {
			ga := cd.g[a]
			if ga == 0 && outer[a] == 0 {
				continue
			}
			for b := a; b < n; b++ {
				hv := hess.At(a, b) - inv*ga*cd.g[b] + inv2*outer[a]*outer[b]
				hess.Set(a, b, hv)
				if a != b {
					hess.Set(b, a, hv)
				}
			}
		}
		if cd.v != nil {
			rows, _ := cd.v.Dims()
			for r := 0; r < rows; r++ {
				vr := cd.v.RawRowView(r)
				for a := 0; a < n; a++ {
					if vr[a] == 0 {
						continue
					}
					for b := a; b < n; b++ {
						hv := hess.At(a, b) + inv*vr[a]*vr[b]
						hess.Set(a, b, hv)
						if a != b {
							hess.Set(b, a, hv)
						}
					}
				}
			}
		}
	}
	return grad, hess
}

// kktSolve solves [H A'; A 0] [dx; y] = [-g; 0] with a small Tikhonov ramp
// when the system is numerically singular.
func (ws *workspace) kktSolve(hess *mat.Dense, grad []float64) (dx, y []float64, err error) {
	n, mEq := ws.n, ws.mEq
	dim := n + mEq
	rhs := mat.NewVecDense(dim, nil)
	for j := 0; j < n; j++ {
		rhs.SetVec(j, -grad[j])
	}

	for _, reg := range []float64{1e-9, 1e-7, 1e-4} {
		k := mat.NewDense(dim, dim, nil)
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				k.Set(a, b, hess.At(a, b))
			}
			k.Set(a, a, k.At(a, a)+reg)
		}
		for r := 0; r < mEq; r++ {
			for j := 0; j < n; j++ {
				v := ws.aeq.At(r, j)
				k.Set(n+r, j, v)
				k.Set(j, n+r, v)
			}
		}

		var lu mat.LU
		lu.Factorize(k)
		sol := mat.NewVecDense(dim, nil)
		serr := lu.SolveVecTo(sol, false, rhs)
		if serr != nil {
			if _, cond := serr.(mat.Condition); !cond {
				continue
			}
		}
		dx = make([]float64, n)
		y = make([]float64, mEq)
		bad := false
		for j := 0; j < n; j++ {
			dx[j] = sol.AtVec(j)
			if math.IsNaN(dx[j]) || math.IsInf(dx[j], 0) {
				bad = true
				break
			}
		}
		for r := 0; r < mEq && !bad; r++ {
			y[r] = sol.AtVec(n + r)
			if math.IsNaN(y[r]) || math.IsInf(y[r], 0) {
				bad = true
			}
		}
		if !bad {
			return dx, y, nil
		}
	}
	return nil, nil, errSingularKKT
}

// center runs damped Newton on the barrier at fixed t from a strictly
// feasible, equality-feasible x. It returns the centered point, the
// equality multipliers of the last Newton system, the step count and
// whether the decrement target was met. stop, when non-nil, is polled
// after every accepted step for early exit.
func (ws *workspace) center(x []float64, t float64, opts Options, stop func([]float64) bool) ([]float64, []float64, int, bool, error) {
	var y []float64
	for iter := 0; iter < opts.MaxNewton; iter++ {
		grad, hess := ws.gradHess(x, t)
		dx, yy, err := ws.kktSolve(hess, grad)
		if err != nil {
			return x, y, iter, false, err
		}
		y = yy

		slope := floats.Dot(grad, dx)
		dec := -slope // equals dx'H dx on the equality manifold
		if dec < 0 {
			dec = 0
		}
		if dec/2 <= opts.NewtonTol {
			return x, y, iter + 1, true, nil
		}

		alpha := ws.lineSearch(x, dx, slope, t)
		if alpha == 0 {
			return x, y, iter + 1, false, nil
		}
		floats.AddScaled(x, alpha, dx)
		if stop != nil && stop(x) {
			return x, y, iter + 1, true, nil
		}
	}
	return x, y, opts.MaxNewton, false, nil
}

// lineSearch backtracks until the Armijo condition holds inside the barrier
// domain.
func (ws *workspace) lineSearch(x, dx []float64, slope, t float64) float64 {
	f0, ok := ws.barrierValue(x, t)
	if !ok {
		return 0
	}
	cand := make([]float64, len(x))
	alpha := 1.0
	for k := 0; k < 60; k++ {
		copy(cand, x)
		floats.AddScaled(cand, alpha, dx)
		if fv, inside := ws.barrierValue(cand, t); inside && fv <= f0+0.25*alpha*slope {
			return alpha
		}
		alpha *= 0.5
	}
	return 0
}
