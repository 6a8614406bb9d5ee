package barrier

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/mat"
)

var errSingularKKT = errors.New("barrier: KKT system singular beyond regularization")

// phaseOne finds a strictly feasible point by minimizing one relaxation
// scalar z added to every cone slack. Any iterate with z < 0 certifies
// strict interior for the original cones; an optimum with z >= 0 certifies
// infeasibility (up to tolerance).
func (s *Solver) phaseOne(ctx context.Context, ws *workspace, x0 []float64) ([]float64, bool, error) {
	aug := ws.augmented()

	// Start at the equality point with z just above the worst violation.
	z0 := 1.0
	for i := range ws.cones {
		sl, nrm, _ := ws.coneValue(i, x0)
		if viol := nrm - sl; viol+1 > z0 {
			z0 = viol + 1
		}
	}
	x := make([]float64, ws.n+1)
	copy(x, x0)
	x[ws.n] = z0

	margin := 10 * s.opts.FeasTol
	stop := func(pt []float64) bool { return pt[ws.n] < -margin }
	if stop(x) {
		return x[:ws.n], true, nil
	}

	m := float64(2 * len(aug.cones))
	t := 1.0
	for outer := 0; outer < s.opts.MaxOuter; outer++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		var err error
		x, _, _, _, err = aug.center(x, t, s.opts, stop)
		if err != nil {
			return nil, false, err
		}
		if stop(x) {
			return x[:ws.n], true, nil
		}
		if m/t <= s.opts.GapTol {
			break
		}
		t *= s.opts.Mu
	}
	// Relaxation could not be driven negative: no strict interior.
	return nil, false, nil
}

// augmented builds the phase-I workspace over (x, z): every cone slack row
// gains +z, equalities ignore z, and the objective is z itself.
func (ws *workspace) augmented() *workspace {
	n := ws.n + 1
	aug := &workspace{
		n:      n,
		c:      make([]float64, n),
		mEq:    ws.mEq,
		blocks: ws.blocks,
		beq:    ws.beq,
	}
	aug.c[n-1] = 1

	if ws.mEq > 0 {
		aug.aeq = mat.NewDense(ws.mEq, n, nil)
		for i := 0; i < ws.mEq; i++ {
			for j := 0; j < ws.n; j++ {
				aug.aeq.Set(i, j, ws.aeq.At(i, j))
			}
		}
	}

	aug.cones = make([]coneData, len(ws.cones))
	for i, cd := range ws.cones {
		g := make([]float64, n)
		copy(g, cd.g)
		g[n-1] = 1
		var v *mat.Dense
		if cd.v != nil {
			rows, _ := cd.v.Dims()
			v = mat.NewDense(rows, n, nil)
			for r := 0; r < rows; r++ {
				for j := 0; j < ws.n; j++ {
					v.Set(r, j, cd.v.At(r, j))
				}
			}
		}
		aug.cones[i] = coneData{g: g, h: cd.h, v: v, v0: cd.v0}
	}
	return aug
}
