package barrier

import (
	"gonum.org/v1/gonum/floats"

	"gasplan/ports"
)

// recoverDuals converts the final Newton system's equality multipliers and
// the central-path cone state into Lagrange multipliers under the
// convention documented on ports.ConicSolution:
//
//	lambda = -y/t
//	mu_i   = 2 s_i / (t gap_i)
//	u_i    = 2 w_i / (t gap_i)
//
// which satisfy stationarity to the centering tolerance and per-cone
// complementarity mu_i s_i - u_i'w_i = 2/t.
func (ws *workspace) recoverDuals(sol *ports.ConicSolution, x, y []float64, t float64) {
	sol.EqDuals = make(map[string][]float64, len(ws.blocks))
	for _, b := range ws.blocks {
		lam := make([]float64, b.len)
		for i := 0; i < b.len; i++ {
			if y != nil {
				lam[i] = -y[b.off+i] / t
			}
		}
		sol.EqDuals[b.name] = lam
	}

	sol.ConeDuals = make([]ports.ConeDualParts, len(ws.cones))
	for i := range ws.cones {
		sl, nrm, vec := ws.coneValue(i, x)
		gap := sl*sl - nrm*nrm
		parts := ports.ConeDualParts{Name: ws.names[i]}
		if gap > 0 {
			scale := 2 / (t * gap)
			parts.Slack = scale * sl
			if vec != nil {
				parts.Vector = make([]float64, len(vec))
				floats.AddScaled(parts.Vector, scale, vec)
			}
		}
		sol.ConeDuals[i] = parts
	}
}
