// Package validate runs the Monte Carlo out-of-sample check of a dispatch
// policy: every drawn demand-error vector is pushed through the affine
// recourse and the linearized network response, and the realized state is
// scored against the physical and production limits. Violations are the
// statistic being measured, never an error.
package validate

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
)

// Realization is one sample's realized network state under the policy.
type Realization struct {
	// Injection holds per-producer realized production.
	Injection []float64
	// Compression holds per-pipe realized boosts, zero at passive pipes.
	Compression []float64
	// PressureSq holds per-node realized pressure-squared values.
	PressureSq []float64
	// Flow holds per-pipe realized flows.
	Flow []float64
	// Cost is the realized production cost.
	Cost float64
}

// Realize applies the affine recourse to one demand-error vector xi (full
// node space) and propagates it through the linearized network response.
func Realize(net *network.NetworkData, lin *policy.Linearization, pol *policy.Policy, xi []float64) Realization {
	nn := net.NumNodes()
	ne := net.NumPipes()
	np := net.NumProducers()

	r := Realization{
		Injection:   make([]float64, np),
		Compression: make([]float64, ne),
		PressureSq:  make([]float64, nn),
		Flow:        make([]float64, ne),
	}

	// Producer and compressor adjustments from the recourse gains.
	dInj := make([]float64, np)
	for p := 0; p < np; p++ {
		v := 0.0
		for i := 0; i < nn; i++ {
			v += pol.Alpha.At(p, i) * xi[i]
		}
		dInj[p] = v
		r.Injection[p] = pol.Injection[p] + v
	}
	dKappa := make([]float64, ne)
	for l := 0; l < ne; l++ {
		v := 0.0
		for i := 0; i < nn; i++ {
			v += pol.Beta.At(l, i) * xi[i]
		}
		dKappa[l] = v
		r.Compression[l] = pol.Compression[l] + v
	}

	// Net nodal disturbance: recourse injections placed on their nodes,
	// plus compression-equivalent injections, minus the realized error.
	u := make([]float64, nn)
	for p, node := range net.ProducerNodes {
		u[node] += dInj[p]
	}
	for i := 0; i < nn; i++ {
		for l := 0; l < ne; l++ {
			u[i] += lin.CompressionCoupling.At(i, l) * dKappa[l]
		}
		u[i] -= xi[i]
	}

	for i := 0; i < nn; i++ {
		v := pol.PressureSq[i]
		for j := 0; j < nn; j++ {
			v += lin.PressureResponse.At(i, j) * u[j]
		}
		r.PressureSq[i] = v
	}

	// Flow response: injection-side term uses the nodal disturbance before
	// the compression coupling, which enters through its own matrix.
	for l := 0; l < ne; l++ {
		v := pol.Flow[l]
		for i := 0; i < nn; i++ {
			v -= lin.FlowRespInjection.At(l, i) * xi[i]
		}
		for p, node := range net.ProducerNodes {
			v += lin.FlowRespInjection.At(l, node) * dInj[p]
		}
		for j := 0; j < ne; j++ {
			v += lin.FlowRespCompression.At(l, j) * dKappa[j]
		}
		r.Flow[l] = v
	}

	for p, prod := range net.Producers {
		inj := r.Injection[p]
		r.Cost += prod.CostQuad*inj*inj + prod.CostLin*inj
	}
	return r
}

// Pressure returns the realized per-node pressure: the square root of the
// clamped-nonnegative pressure-squared state.
func (r Realization) Pressure() []float64 {
	out := make([]float64, len(r.PressureSq))
	for i, th := range r.PressureSq {
		if th > 0 {
			out[i] = math.Sqrt(th)
		}
	}
	return out
}

// partial is one worker's share of the aggregation; all fields combine
// commutatively.
type partial struct {
	violations  int
	maxViol     float64
	counts      policy.ViolationCounts
	pressureSum []float64
}

func (a *partial) merge(b *partial) {
	a.violations += b.violations
	if b.maxViol > a.maxViol {
		a.maxViol = b.maxViol
	}
	a.counts.PressureHi += b.counts.PressureHi
	a.counts.PressureLo += b.counts.PressureLo
	a.counts.FlowSign += b.counts.FlowSign
	a.counts.InjectionHi += b.counts.InjectionHi
	a.counts.InjectionLo += b.counts.InjectionLo
	a.counts.CompressionHi += b.counts.CompressionHi
	a.counts.CompressionLo += b.counts.CompressionLo
	for i := range a.pressureSum {
		a.pressureSum[i] += b.pressureSum[i]
	}
}

// Validator scores policies against sampled demand errors.
type Validator struct {
	workers int
	log     *internal.Logger
}

// New creates a validator using one worker per CPU.
func New() *Validator { return NewWithWorkers(0) }

// NewWithWorkers creates a validator with a fixed worker count; zero means
// GOMAXPROCS.
func NewWithWorkers(n int) *Validator {
	return &Validator{workers: n, log: internal.DefaultLogger.Tagged("Validate")}
}

// Validate measures the empirical violation rate and cost statistics of a
// policy over a bank of demand-error samples (one sample per row, full
// node width). Samples are processed in parallel; each worker owns a
// disjoint row range and a private partial aggregate.
func (v *Validator) Validate(ctx context.Context, net *network.NetworkData, lin *policy.Linearization, pol *policy.Policy, samples *mat.Dense, set policy.Settings) (*policy.ValidationReport, error) {
	if pol == nil || pol.Alpha == nil || pol.Beta == nil {
		return nil, fmt.Errorf("validate: policy missing recourse matrices")
	}
	n, width := samples.Dims()
	if width != net.NumNodes() {
		return nil, fmt.Errorf("validate: sample width %d does not match %d nodes", width, net.NumNodes())
	}
	if n == 0 {
		return &policy.ValidationReport{MeanPressure: make([]float64, net.NumNodes())}, nil
	}

	workers := v.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	costs := make([]float64, n)
	parts := make([]partial, workers)
	g, gctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			part := &parts[w]
			part.pressureSum = make([]float64, net.NumNodes())
			xi := make([]float64, width)
			for s := lo; s < hi; s++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				mat.Row(xi, s, samples)
				r := Realize(net, lin, pol, xi)
				costs[s] = r.Cost
				v.score(net, r, set.ViolationTolerance, part)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := &parts[0]
	for w := 1; w < workers; w++ {
		if parts[w].pressureSum == nil {
			continue
		}
		total.merge(&parts[w])
	}

	report := &policy.ValidationReport{
		Samples:       n,
		Violations:    total.violations,
		ViolationRate: float64(total.violations) / float64(n),
		MaxViolation:  total.maxViol,
		Counts:        total.counts,
	}
	report.MeanCost, _ = stats.Mean(costs)
	report.StdCost, _ = stats.StandardDeviation(costs)
	report.CostP95, _ = stats.Percentile(costs, 95)
	report.MeanPressure = make([]float64, net.NumNodes())
	for i := range report.MeanPressure {
		report.MeanPressure[i] = total.pressureSum[i] / float64(n)
	}

	v.log.Info("out-of-sample: %d samples, %d violated (rate %.4f), mean cost %.4f",
		n, report.Violations, report.ViolationRate, report.MeanCost)
	return report, nil
}

// score checks one realization against every limit and folds the result
// into the worker's partial.
func (v *Validator) score(net *network.NetworkData, r Realization, tol float64, part *partial) {
	violated := false
	exceed := func(amount float64) {
		violated = true
		if amount > part.maxViol {
			part.maxViol = amount
		}
	}

	for p, prod := range net.Producers {
		if d := r.Injection[p] - prod.MaxInjection; d > tol {
			part.counts.InjectionHi++
			exceed(d)
		}
		if d := prod.MinInjection - r.Injection[p]; d > tol {
			part.counts.InjectionLo++
			exceed(d)
		}
	}
	for i, node := range net.Nodes {
		if d := r.PressureSq[i] - node.MaxPressureSq; d > tol {
			part.counts.PressureHi++
			exceed(d)
		}
		if d := node.MinPressureSq - r.PressureSq[i]; d > tol {
			part.counts.PressureLo++
			exceed(d)
		}
	}
	for _, l := range net.ActivePipes {
		if d := -r.Flow[l]; d > tol {
			part.counts.FlowSign++
			exceed(d)
		}
		pipe := net.Pipes[l]
		if d := r.Compression[l] - pipe.MaxCompression; d > tol {
			part.counts.CompressionHi++
			exceed(d)
		}
		if d := pipe.MinCompression - r.Compression[l]; d > tol {
			part.counts.CompressionLo++
			exceed(d)
		}
	}

	if violated {
		part.violations++
	}
	pr := r.Pressure()
	for i := range part.pressureSum {
		part.pressureSum[i] += pr[i]
	}
}
