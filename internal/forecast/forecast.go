// Package forecast models demand-side uncertainty: zero-mean Gaussian
// errors on demand-bearing nodes with magnitude proportional to nominal
// demand and a constant pairwise correlation. The model is carried as a
// Cholesky loading matrix embedded in full node space, so downstream
// stages compute variances as plain matrix-vector norms.
package forecast

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/ports"
)

// streamName seeds the sampling RNG independently of other consumers.
const streamName = "forecast"

// Model is the finished uncertainty description.
type Model struct {
	// Dim is the number of uncertain (demand-bearing) nodes.
	Dim int
	// Sigma holds per-node error standard deviations, zero off demand
	// nodes.
	Sigma []float64
	// Factor is the node-by-Dim loading matrix with Factor*Factor^T equal
	// to the full-node covariance; nil when Dim is zero. A row vector r of
	// nodal weights has error variance ||Factor^T r||^2.
	Factor *mat.Dense
}

// Zero reports whether the model carries no uncertainty at all.
func (m *Model) Zero() bool {
	if m.Dim == 0 || m.Factor == nil {
		return true
	}
	for _, s := range m.Sigma {
		if s != 0 {
			return false
		}
	}
	return true
}

// Generator builds models and draws correlated samples.
type Generator struct {
	rng ports.RNGPort
	log *internal.Logger
}

func NewGenerator(rng ports.RNGPort) *Generator {
	return &Generator{rng: rng, log: internal.DefaultLogger.Tagged("Forecast")}
}

// Build assembles the loading matrix for a network under the run settings.
// The demand-node covariance is sigma_i*sigma_j*(rho + (1-rho)*[i==j]);
// a correlation that breaks positive semidefiniteness is rejected.
func (g *Generator) Build(net *network.NetworkData, set policy.Settings) (*Model, error) {
	nn := net.NumNodes()
	d := net.NumDemand()

	sigma := make([]float64, nn)
	for _, i := range net.DemandNodes {
		sigma[i] = set.ErrorScale * net.Nodes[i].Demand
	}

	model := &Model{Dim: d, Sigma: sigma}
	if d == 0 {
		g.log.Info("no demand-bearing nodes: uncertainty model is empty")
		return model, nil
	}

	model.Factor = mat.NewDense(nn, d, nil)
	if set.ErrorScale == 0 {
		g.log.Info("error scale zero: degenerate (deterministic) uncertainty model")
		return model, nil
	}

	cov := mat.NewSymDense(d, nil)
	for i, ni := range net.DemandNodes {
		for j, nj := range net.DemandNodes {
			if j < i {
				continue
			}
			v := sigma[ni] * sigma[nj] * set.Correlation
			if i == j {
				v = sigma[ni] * sigma[ni]
			}
			cov.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("%w: correlation %.3f over %d demand nodes", core.ErrBadCovariance, set.Correlation, d)
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	for i, ni := range net.DemandNodes {
		for j := 0; j <= i; j++ {
			model.Factor.Set(ni, j, lower.At(i, j))
		}
	}
	g.log.Info("uncertainty model over %d demand nodes (scale %.3f, correlation %.3f)", d, set.ErrorScale, set.Correlation)
	return model, nil
}

// Sample draws n correlated demand-error vectors, one per row, in full
// node space. The draw is reproducible for a given seed.
func (g *Generator) Sample(ctx context.Context, model *Model, n int, seed int64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("forecast: sample count %d", n)
	}
	nn := len(model.Sigma)
	out := mat.NewDense(n, nn, nil)
	if model.Zero() {
		return out, nil
	}

	src, err := g.rng.Source(ctx, streamName, seed)
	if err != nil {
		return nil, err
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	z := make([]float64, model.Dim)
	row := make([]float64, nn)
	for s := 0; s < n; s++ {
		for j := range z {
			z[j] = norm.Rand()
		}
		for i := 0; i < nn; i++ {
			v := 0.0
			for j := 0; j < model.Dim; j++ {
				v += model.Factor.At(i, j) * z[j]
			}
			row[i] = v
		}
		out.SetRow(s, row)
	}
	return out, nil
}
