package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gasplan/adapters/rng"
	"gasplan/adapters/solver/barrier"
	"gasplan/adapters/solver/seqlin"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal/chance"
	"gasplan/internal/forecast"
	"gasplan/internal/linearize"
	"gasplan/internal/nonconvex"
	"gasplan/internal/testkit"
)

// solvedPolicy runs the pipeline stages up to the policy for a case.
func solvedPolicy(t *testing.T, c network.Case, set policy.Settings) (*network.NetworkData, *policy.Linearization, *policy.Policy, *forecast.Model) {
	t.Helper()
	net := testkit.BuildNet(t, c)

	op, sol, err := nonconvex.New(seqlin.New(barrier.New())).Solve(context.Background(), net)
	require.NoError(t, err)
	lin, err := linearize.New(barrier.New()).Linearize(context.Background(), net, op, sol.Jacobian)
	require.NoError(t, err)
	model, err := forecast.NewGenerator(rng.New()).Build(net, set)
	require.NoError(t, err)
	pol, err := chance.New(barrier.New()).Solve(context.Background(), net, lin, model, set)
	require.NoError(t, err)
	return net, lin, pol, model
}

func TestRealizeZeroErrorMatchesNominal(t *testing.T) {
	set := policy.Defaults()
	net, lin, pol, _ := solvedPolicy(t, testkit.LineCase(), set)

	r := Realize(net, lin, pol, make([]float64, net.NumNodes()))

	for p := range net.Producers {
		assert.InDelta(t, pol.Injection[p], r.Injection[p], 1e-12)
	}
	for i := range net.Nodes {
		assert.InDelta(t, pol.PressureSq[i], r.PressureSq[i], 1e-9)
	}
	for l := range net.Pipes {
		assert.InDelta(t, pol.Flow[l], r.Flow[l], 1e-9)
		assert.InDelta(t, pol.Compression[l], r.Compression[l], 1e-12)
	}
}

func TestValidateZeroScaleNeverViolates(t *testing.T) {
	set := policy.Defaults()
	set.Deterministic = true
	set.ErrorScale = 0
	set.Samples = 10000
	net, lin, pol, model := solvedPolicy(t, testkit.LineCase(), set)

	samples, err := forecast.NewGenerator(rng.New()).Sample(context.Background(), model, set.Samples, set.Seed)
	require.NoError(t, err)

	report, err := New().Validate(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	assert.Equal(t, 10000, report.Samples)
	assert.Equal(t, 0, report.Violations)
	assert.Equal(t, 0.0, report.ViolationRate)
	assert.Equal(t, policy.ViolationCounts{}, report.Counts)
	assert.InDelta(t, pol.Objective, report.MeanCost, 1e-4)
	assert.InDelta(t, 0.0, report.StdCost, 1e-9)
}

func TestValidateStochasticRateWithinBudget(t *testing.T) {
	set := policy.Defaults()
	set.Samples = 4000
	net, lin, pol, model := solvedPolicy(t, testkit.LineCase(), set)

	samples, err := forecast.NewGenerator(rng.New()).Sample(context.Background(), model, set.Samples, set.Seed)
	require.NoError(t, err)

	report, err := New().Validate(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	// Bonferroni budgeting is conservative, so the empirical rate sits
	// well under the configured budget.
	assert.LessOrEqual(t, report.ViolationRate, set.ViolationBudget)
	assert.Greater(t, report.MeanCost, 0.0)
	assert.Greater(t, report.CostP95, report.MeanCost)
	for i := range net.Nodes {
		assert.Greater(t, report.MeanPressure[i], 0.0)
	}
}

// inertLinearization returns all-zero response matrices, so realizations
// reduce to the policy's own recourse terms.
func inertLinearization(net *network.NetworkData) *policy.Linearization {
	nn := net.NumNodes()
	ne := net.NumPipes()
	return &policy.Linearization{
		Intercept:           make([]float64, ne),
		PressureCoeff:       mat.NewDense(ne, nn, nil),
		CompressionCoeff:    mat.NewDense(ne, ne, nil),
		PressureResponse:    mat.NewDense(nn, nn, nil),
		CompressionCoupling: mat.NewDense(nn, ne, nil),
		FlowRespInjection:   mat.NewDense(ne, nn, nil),
		FlowRespCompression: mat.NewDense(ne, ne, nil),
		RefNode:             net.Ref,
	}
}

func TestValidateCountsBoundCrossings(t *testing.T) {
	net := testkit.BuildNet(t, testkit.LineCase())
	lin := inertLinearization(net)

	// Injection 40 above its cap of 60 and the node 3 pressure 100 below
	// its floor of 1600; everything else comfortably inside.
	pol := &policy.Policy{
		Injection:   []float64{100},
		PressureSq:  []float64{4600, 3000, 1500},
		Flow:        []float64{17, 12},
		Compression: []float64{0, 2},
		Alpha:       mat.NewDense(1, 3, nil),
		Beta:        mat.NewDense(2, 3, nil),
	}
	set := policy.Defaults()
	samples := mat.NewDense(3, 3, nil)

	report, err := New().Validate(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Violations)
	assert.Equal(t, 1.0, report.ViolationRate)
	assert.Equal(t, 3, report.Counts.InjectionHi)
	assert.Equal(t, 3, report.Counts.PressureLo)
	assert.Equal(t, 0, report.Counts.PressureHi)
	assert.Equal(t, 0, report.Counts.FlowSign)
	// Worst single exceedance is the pressure shortfall, not the 40-unit
	// injection overrun.
	assert.InDelta(t, 100.0, report.MaxViolation, 1e-12)
}

func TestValidateWorkerCountInvariant(t *testing.T) {
	set := policy.Defaults()
	set.Samples = 500
	net, lin, pol, model := solvedPolicy(t, testkit.ForkCase(), set)

	samples, err := forecast.NewGenerator(rng.New()).Sample(context.Background(), model, set.Samples, set.Seed)
	require.NoError(t, err)

	serial, err := NewWithWorkers(1).Validate(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)
	parallel, err := NewWithWorkers(4).Validate(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	assert.Equal(t, serial.Violations, parallel.Violations)
	assert.Equal(t, serial.Counts, parallel.Counts)
	assert.InDelta(t, serial.MeanCost, parallel.MeanCost, 1e-9)
	assert.InDelta(t, serial.MaxViolation, parallel.MaxViolation, 1e-12)
	for i := range serial.MeanPressure {
		assert.InDelta(t, serial.MeanPressure[i], parallel.MeanPressure[i], 1e-9)
	}
}

func TestValidateRejectsMismatchedSamples(t *testing.T) {
	set := policy.Defaults()
	net, lin, pol, _ := solvedPolicy(t, testkit.LineCase(), set)

	_, err := New().Validate(context.Background(), net, lin, pol, mat.NewDense(5, 2, nil), set)
	assert.Error(t, err)
}
