package chance

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasplan/adapters/rng"
	"gasplan/adapters/solver/barrier"
	"gasplan/adapters/solver/seqlin"
	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal/forecast"
	"gasplan/internal/linearize"
	"gasplan/internal/nonconvex"
)

func lineCase() network.Case {
	return network.Case{
		Name: "line-3",
		Nodes: []network.Node{
			{ID: "n1", Demand: 0, MinPressureSq: 2500, MaxPressureSq: 5000, Reference: true, GaugePressureSq: 4600},
			{ID: "n2", Demand: 10, MinPressureSq: 2000, MaxPressureSq: 4900},
			{ID: "n3", Demand: 12, MinPressureSq: 1600, MaxPressureSq: 4800},
		},
		Pipes: []network.Pipe{
			{ID: "p1", From: "n1", To: "n2", Resistance: 0.6},
			{ID: "p2", From: "n2", To: "n3", Resistance: 0.8, Active: true, MinCompression: 0, MaxCompression: 5, CompressionSide: 1},
		},
		Producers: []network.Producer{
			{ID: "g1", Node: "n1", CostQuad: 0.02, CostLin: 1.5, MinInjection: 0, MaxInjection: 60},
		},
	}
}

func solvedInputs(t *testing.T, c network.Case, set policy.Settings) (*network.NetworkData, *policy.Linearization, *forecast.Model) {
	t.Helper()
	net, err := network.Build(c)
	require.NoError(t, err)

	op, sol, err := nonconvex.New(seqlin.New(barrier.New())).Solve(context.Background(), net)
	require.NoError(t, err)

	lin, err := linearize.New(barrier.New()).Linearize(context.Background(), net, op, sol.Jacobian)
	require.NoError(t, err)

	model, err := forecast.NewGenerator(rng.New()).Build(net, set)
	require.NoError(t, err)
	return net, lin, model
}

func TestSolveDeterministicMatchesNominal(t *testing.T) {
	set := policy.Defaults()
	set.Deterministic = true
	net, lin, model := solvedInputs(t, lineCase(), set)

	pol, err := New(barrier.New()).Solve(context.Background(), net, lin, model, set)
	require.NoError(t, err)

	assert.Equal(t, 0.0, pol.SafetyFactor)
	assert.Equal(t, 11, pol.ChanceCount)

	// Without uncertainty the dispatch reproduces the nominal optimum
	// under the linearized physics.
	assert.InDelta(t, 17, pol.Injection[0], 1e-2)
	assert.InDelta(t, 5, pol.Compression[1], 1e-2)
	assert.InDelta(t, 17, pol.Flow[0], 1e-2)
	assert.InDelta(t, 12, pol.Flow[1], 1e-2)
	assert.InDelta(t, 4600, pol.PressureSq[0], 1e-4)
	assert.InDelta(t, 0.02*289+1.5*17, pol.Objective, 0.05)

	// Penalties push both dispersion epigraphs to zero when no
	// uncertainty backs them.
	assert.InDelta(t, 0.0, pol.PressureSpread, 1e-4)
	assert.InDelta(t, 0.0, pol.FlowSpread, 1e-4)

	// One producer covering two demand nodes: marginal demand anywhere is
	// served by that producer at its marginal cost.
	mc := 2*0.02*pol.Injection[0] + 1.5
	for i := 0; i < 3; i++ {
		assert.InDelta(t, mc, pol.Duals.Balance[i], 0.05)
	}
	// Compression displaces paid gas one for one, so its cap earns the
	// same marginal value.
	assert.InDelta(t, mc, pol.Duals.CompressionHi[0].Slack, 0.05)
	assert.InDelta(t, 0.0, pol.Duals.InjectionHi[0].Slack, 1e-3)

	// No uncertainty: the recourse identity is degenerate and free.
	for _, v := range pol.Duals.Recourse {
		assert.InDelta(t, 0.0, v, 1e-4)
	}
}

func TestSolveChanceBacksOffLimits(t *testing.T) {
	set := policy.Defaults() // budget 0.05, scale 0.10, correlation 0
	net, lin, model := solvedInputs(t, lineCase(), set)

	pol, err := New(barrier.New()).Solve(context.Background(), net, lin, model, set)
	require.NoError(t, err)

	require.Equal(t, 11, pol.ChanceCount)
	assert.InDelta(t, SafetyFactor(0.05, 11), pol.SafetyFactor, 1e-12)
	assert.Greater(t, pol.SafetyFactor, 2.0)

	// Recourse identity per demand node, compression side folded in.
	for _, k := range net.DemandNodes {
		total := pol.Alpha.At(0, k) + pol.Beta.At(1, k)
		assert.InDelta(t, 1.0, total, 1e-6, "demand error must be fully covered")
	}
	// Structural zeros: nothing responds to the supply node, passive
	// pipes carry no recourse.
	assert.Equal(t, 0.0, pol.Alpha.At(0, 0))
	assert.Equal(t, 0.0, pol.Beta.At(0, 1))
	assert.Equal(t, 0.0, pol.Beta.At(0, 2))

	// Producer recourse costs a quadratic sliver while compression
	// recourse would spend boost headroom priced at the marginal cost of
	// gas, so the error settles on the producer.
	for _, k := range net.DemandNodes {
		assert.InDelta(t, 1.0, pol.Alpha.At(0, k), 0.05)
		assert.InDelta(t, 0.0, pol.Beta.At(1, k), 0.02)
	}
	assert.InDelta(t, 5.0, pol.Compression[1], 1e-2)

	// Probabilistic limits leave z-sigma headroom.
	z := pol.SafetyFactor
	lfac := demandFactor(net, model)
	d := net.NumDemand()

	alphaRow := make([]float64, d)
	betaRow := make([]float64, d)
	for k, node := range net.DemandNodes {
		alphaRow[k] = pol.Alpha.At(0, node)
		betaRow[k] = pol.Beta.At(1, node)
	}
	stdOf := func(row []float64) float64 {
		acc := 0.0
		for j := 0; j < d; j++ {
			v := 0.0
			for k := 0; k < d; k++ {
				v += lfac.At(k, j) * row[k]
			}
			acc += v * v
		}
		return math.Sqrt(acc)
	}

	tol := 1e-5
	assert.LessOrEqual(t, pol.Injection[0]+z*stdOf(alphaRow), 60+tol)
	assert.GreaterOrEqual(t, pol.Injection[0]-z*stdOf(alphaRow), 0-tol)
	assert.LessOrEqual(t, pol.Compression[1]+z*stdOf(betaRow), 5+tol)
	assert.GreaterOrEqual(t, pol.Compression[1]-z*stdOf(betaRow), 0-tol)

	// Hedging is not free: the stochastic objective dominates the
	// deterministic optimum and the dispersion epigraphs are live. The
	// pressure spread is dominated by the stiff response at the far node.
	assert.Greater(t, pol.Objective, 31.4)
	assert.Less(t, pol.Objective, 33.5)
	assert.InDelta(t, 148, pol.PressureSpread, 4)
	assert.InDelta(t, 1.97, pol.FlowSpread, 0.1)
	assert.Greater(t, pol.CostEpigraph[0], 0.02*289)
}

func TestSolveInfeasibleHedge(t *testing.T) {
	c := lineCase()
	c.Producers[0].MaxInjection = 17.2
	c.Pipes[1].MinCompression = 4.9
	set := policy.Defaults()
	net, lin, model := solvedInputs(t, c, set)

	_, err := New(barrier.New()).Solve(context.Background(), net, lin, model, set)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInfeasible)
}

func TestBuildIsPure(t *testing.T) {
	set := policy.Defaults()
	net, lin, model := solvedInputs(t, lineCase(), set)

	p1, a1, err := Build(net, lin, model, set)
	require.NoError(t, err)
	p2, a2, err := Build(net, lin, model, set)
	require.NoError(t, err)

	assert.Equal(t, p1.NumVars, p2.NumVars)
	assert.Equal(t, a1.Z, a2.Z)
	assert.Equal(t, p1.C, p2.C)
	require.Equal(t, len(p1.Cones), len(p2.Cones))
	for i := range p1.Cones {
		assert.Equal(t, p1.Cones[i].Name, p2.Cones[i].Name)
		assert.Equal(t, p1.Cones[i].G, p2.Cones[i].G)
	}
}

func TestBuildLayout(t *testing.T) {
	set := policy.Defaults()
	net, lin, model := solvedInputs(t, lineCase(), set)

	prog, asm, err := Build(net, lin, model, set)
	require.NoError(t, err)

	// injection 1, pressure 3, flow 2, compression 1, alpha 2, beta 2,
	// spreads 2, cost 1.
	assert.Equal(t, 14, prog.NumVars)
	assert.Equal(t, 2, asm.Dim)

	names := make([]string, 0, len(prog.Blocks))
	for _, b := range prog.Blocks {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"balance", "flow_lin", "ref", "recourse"}, names)

	// 11 limit cones, two dispersion cones, one cost cone.
	assert.Len(t, prog.Cones, 14)

	// Penalties and epigraph weights appear in the objective vector.
	sth, _, _ := asm.Vars.Range(GroupPressureSpread)
	sph, _, _ := asm.Vars.Range(GroupFlowSpread)
	tOff, _, _ := asm.Vars.Range(GroupCost)
	iOff, _, _ := asm.Vars.Range(nonconvex.GroupInjection)
	assert.Equal(t, set.PressurePenalty, prog.C[sth])
	assert.Equal(t, set.FlowPenalty, prog.C[sph])
	assert.Equal(t, 1.0, prog.C[tOff])
	assert.Equal(t, 1.5, prog.C[iOff])
}
