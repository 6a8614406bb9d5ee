package projection

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

func solvedPolicy(t *testing.T, c network.Case, set policy.Settings) (*network.NetworkData, *policy.Linearization, *forecast.Model, *policy.Policy) {
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
	return net, lin, model, pol
}

func TestAnalyzeZeroErrorZeroDistance(t *testing.T) {
	set := policy.Defaults()
	set.Deterministic = true
	set.ErrorScale = 0
	net, lin, _, pol := solvedPolicy(t, testkit.LineCase(), set)

	// Zero errors leave the realized dispatch at the nominal solution,
	// which is feasible for the linearized set by construction.
	samples := mat.NewDense(10, net.NumNodes(), nil)
	report, err := New(barrier.New()).Analyze(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	assert.Equal(t, 10, report.Attempted)
	assert.Equal(t, 10, report.Solved)
	assert.Equal(t, 0, report.Skipped)
	assert.InDelta(t, 0.0, report.MeanDistance, 1e-3)
	assert.InDelta(t, 0.0, report.MaxDistance, 1e-3)
}

func TestAnalyzeCapBoundsSubproblems(t *testing.T) {
	set := policy.Defaults()
	set.ProjectionCap = 5
	net, lin, model, pol := solvedPolicy(t, testkit.LineCase(), set)

	samples, err := forecast.NewGenerator(rng.New()).Sample(context.Background(), model, 40, set.Seed)
	require.NoError(t, err)

	report, err := New(barrier.New()).Analyze(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Attempted)
	assert.Equal(t, report.Attempted, report.Solved+report.Skipped)
}

func TestAnalyzeAggregatesAcrossSamples(t *testing.T) {
	set := policy.Defaults()
	set.ProjectionCap = 25
	net, lin, model, pol := solvedPolicy(t, testkit.LineCase(), set)

	samples, err := forecast.NewGenerator(rng.New()).Sample(context.Background(), model, 25, set.Seed)
	require.NoError(t, err)

	report, err := New(barrier.New()).Analyze(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	require.Positive(t, report.Solved)
	// The chance constraints keep nearly every realized dispatch inside
	// the feasible set, so the recourse policy stays close to the exact
	// re-dispatch on average.
	assert.GreaterOrEqual(t, report.MaxDistance, report.MeanDistance)
	assert.GreaterOrEqual(t, report.P95Distance, 0.0)
	assert.Less(t, report.MeanDistance, 1.0)
}

func TestAnalyzeEmptyCap(t *testing.T) {
	set := policy.Defaults()
	set.ProjectionCap = 0
	net, lin, _, pol := solvedPolicy(t, testkit.LineCase(), set)

	samples := mat.NewDense(4, net.NumNodes(), nil)
	report, err := New(barrier.New()).Analyze(context.Background(), net, lin, pol, samples, set)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Attempted)
	assert.Equal(t, 0, report.Solved)
	assert.Equal(t, 0.0, report.MeanDistance)
}
