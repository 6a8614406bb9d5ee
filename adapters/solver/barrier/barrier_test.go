package barrier

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gasplan/ports"
)

func solve(t *testing.T, prog *ports.ConicProgram) *ports.ConicSolution {
	t.Helper()
	sol, err := New().SolveConic(context.Background(), prog)
	require.NoError(t, err)
	return sol
}

// min 0.5(x1^2+x2^2) s.t. x1+x2 = 2. Optimum (1,1), multiplier 1.
func TestEqualityQP(t *testing.T) {
	q := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	prog := &ports.ConicProgram{
		NumVars: 2,
		Q:       q,
		C:       []float64{0, 0},
		Blocks: []ports.EqualityBlock{
			{Name: "sum", A: mat.NewDense(1, 2, []float64{1, 1}), B: []float64{2}},
		},
	}
	sol := solve(t, prog)

	require.Equal(t, ports.StatusConverged, sol.Status)
	assert.InDelta(t, 1.0, sol.X[0], 1e-8)
	assert.InDelta(t, 1.0, sol.X[1], 1e-8)
	assert.InDelta(t, 1.0, sol.Objective, 1e-8)
	require.Len(t, sol.EqDuals["sum"], 1)
	assert.InDelta(t, 1.0, sol.EqDuals["sum"][0], 1e-6)
}

// min x s.t. 1 <= x <= 3. Optimum 1, lower-bound multiplier 1.
func TestBoxLP(t *testing.T) {
	prog := &ports.ConicProgram{
		NumVars: 1,
		C:       []float64{1},
		Cones: []ports.Cone{
			{Name: "lo", Kind: ports.KindLimit, G: []float64{1}, H: -1},
			{Name: "hi", Kind: ports.KindLimit, G: []float64{-1}, H: 3},
		},
	}
	sol := solve(t, prog)

	require.Equal(t, ports.StatusConverged, sol.Status)
	assert.InDelta(t, 1.0, sol.X[0], 1e-6)
	assert.InDelta(t, 1.0, sol.Objective, 1e-6)
	assert.InDelta(t, 1.0, sol.ConeDuals[0].Slack, 1e-5)
	assert.InDelta(t, 0.0, sol.ConeDuals[1].Slack, 1e-5)
}

// min t s.t. t >= ||(1,1)||. Optimum sqrt(2) with unit slack dual.
func TestConstantVectorCone(t *testing.T) {
	prog := &ports.ConicProgram{
		NumVars: 1,
		C:       []float64{1},
		Cones: []ports.Cone{
			{Name: "norm", Kind: ports.KindVariance, G: []float64{1}, H: 0, V0: []float64{1, 1}},
		},
	}
	sol := solve(t, prog)

	require.Equal(t, ports.StatusConverged, sol.Status)
	assert.InDelta(t, math.Sqrt2, sol.X[0], 1e-6)
	d := sol.ConeDuals[0]
	assert.InDelta(t, 1.0, d.Slack, 1e-5)
	require.Len(t, d.Vector, 2)
	assert.InDelta(t, 1/math.Sqrt2, d.Vector[0], 1e-4)
	assert.InDelta(t, 1/math.Sqrt2, d.Vector[1], 1e-4)
	// Dual feasibility: ||u|| <= mu.
	assert.LessOrEqual(t, math.Hypot(d.Vector[0], d.Vector[1]), d.Slack+1e-8)
}

// min s s.t. s >= ||(x1-3, x2-4)||, x1 = x2 = 0. Optimum 5 with the
// equality duals inheriting the cone's vector multiplier.
func TestDistanceCone(t *testing.T) {
	v := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 0})
	prog := &ports.ConicProgram{
		NumVars: 3,
		C:       []float64{0, 0, 1},
		Blocks: []ports.EqualityBlock{
			{Name: "pin", A: mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 0}), B: []float64{0, 0}},
		},
		Cones: []ports.Cone{
			{Name: "dist", Kind: ports.KindVariance, G: []float64{0, 0, 1}, H: 0, V: v, V0: []float64{-3, -4}},
		},
	}
	sol := solve(t, prog)

	require.Equal(t, ports.StatusConverged, sol.Status)
	assert.InDelta(t, 5.0, sol.X[2], 1e-6)
	assert.InDelta(t, 1.0, sol.ConeDuals[0].Slack, 1e-4)
	assert.InDelta(t, -0.6, sol.ConeDuals[0].Vector[0], 1e-4)
	assert.InDelta(t, -0.8, sol.ConeDuals[0].Vector[1], 1e-4)
	assert.InDelta(t, -0.6, sol.EqDuals["pin"][0], 1e-4)
	assert.InDelta(t, -0.8, sol.EqDuals["pin"][1], 1e-4)

	// Strong duality: lambda'b + u'v0 - mu*h equals the primal objective.
	dual := sol.ConeDuals[0].Vector[0]*-3 + sol.ConeDuals[0].Vector[1]*-4
	assert.InDelta(t, sol.Objective, dual, 1e-4)
}

// Degenerate objective on a feasible segment still centers and prices the
// equality.
func TestDegenerateSegment(t *testing.T) {
	prog := &ports.ConicProgram{
		NumVars: 2,
		C:       []float64{1, 1},
		Blocks: []ports.EqualityBlock{
			{Name: "sum", A: mat.NewDense(1, 2, []float64{1, 1}), B: []float64{2}},
		},
		Cones: []ports.Cone{
			{Name: "x1", Kind: ports.KindLimit, G: []float64{1, 0}, H: 0},
			{Name: "x2", Kind: ports.KindLimit, G: []float64{0, 1}, H: 0},
		},
	}
	sol := solve(t, prog)

	require.Equal(t, ports.StatusConverged, sol.Status)
	assert.InDelta(t, 2.0, sol.Objective, 1e-6)
	assert.InDelta(t, 1.0, sol.EqDuals["sum"][0], 1e-4)
}

func TestInfeasibleCones(t *testing.T) {
	prog := &ports.ConicProgram{
		NumVars: 1,
		C:       []float64{0},
		Cones: []ports.Cone{
			{Name: "ge1", Kind: ports.KindLimit, G: []float64{1}, H: -1},
			{Name: "le0", Kind: ports.KindLimit, G: []float64{-1}, H: 0},
		},
	}
	sol := solve(t, prog)
	assert.Equal(t, ports.StatusInfeasible, sol.Status)
}

func TestInconsistentEqualities(t *testing.T) {
	prog := &ports.ConicProgram{
		NumVars: 1,
		C:       []float64{0},
		Blocks: []ports.EqualityBlock{
			{Name: "a", A: mat.NewDense(2, 1, []float64{1, 1}), B: []float64{0, 1}},
		},
	}
	sol := solve(t, prog)
	assert.Equal(t, ports.StatusInfeasible, sol.Status)
}

func TestMalformedProgramRejected(t *testing.T) {
	prog := &ports.ConicProgram{NumVars: 2, C: []float64{1}}
	_, err := New().SolveConic(context.Background(), prog)
	assert.Error(t, err)
}

// Per-cone complementarity at the solution should track the reported gap.
func TestComplementaritySlack(t *testing.T) {
	prog := &ports.ConicProgram{
		NumVars: 1,
		C:       []float64{1},
		Cones: []ports.Cone{
			{Name: "lo", Kind: ports.KindLimit, G: []float64{1}, H: -2},
		},
	}
	sol := solve(t, prog)
	require.Equal(t, ports.StatusConverged, sol.Status)

	slackValue := sol.X[0] - 2
	comp := sol.ConeDuals[0].Slack * slackValue
	assert.InDelta(t, 0, comp, 1e-6)
	assert.LessOrEqual(t, sol.Gap, 1e-8)
}
