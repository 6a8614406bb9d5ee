// Package dual reads the economics out of a solved chance-constrained
// dispatch. It replays the exact conic program the policy came from,
// certifies optimality (duality gap and KKT stationarity) and settles the
// dual prices into per-actor revenue accounts. Everything here is a
// read-only diagnostic over the primal-dual solution.
package dual

import (
	"fmt"
	"math"

	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/internal/chance"
	"gasplan/internal/forecast"
	"gasplan/internal/nonconvex"
	"gasplan/ports"
)

const (
	// gapLimit is the accepted relative duality gap before the certificate
	// is flagged.
	gapLimit = 1e-3
	// stationarityLimit bounds the accepted KKT residual infinity norm.
	stationarityLimit = 1e-2
)

// Analyzer reconstructs the dual certificate and the revenue decomposition.
type Analyzer struct {
	log *internal.Logger
}

func New() *Analyzer {
	return &Analyzer{log: internal.DefaultLogger.Tagged("Dual")}
}

// Analyze rebuilds the program the policy was solved against and scores the
// stored primal-dual pair. The policy is never modified.
func (a *Analyzer) Analyze(net *network.NetworkData, lin *policy.Linearization, model *forecast.Model, set policy.Settings, pol *policy.Policy) (*policy.DualReport, error) {
	prog, asm, err := chance.Build(net, lin, model, set)
	if err != nil {
		return nil, fmt.Errorf("dual: replaying program: %w", err)
	}
	if len(pol.Primal) != prog.NumVars {
		return nil, fmt.Errorf("dual: stored primal has %d variables, program has %d", len(pol.Primal), prog.NumVars)
	}

	x := pol.Primal
	eq := equalityDuals(pol)
	cones := coneDuals(net, pol)

	report := &policy.DualReport{
		PrimalObjective: pol.Objective,
		NodePrices:      append([]float64(nil), pol.Duals.Balance...),
		RecoursePrices:  append([]float64(nil), pol.Duals.Recourse...),
	}

	// Dual objective: sum lambda'B over equality blocks plus the cone
	// terms u'V0 - mu*H. The program has no quadratic objective block (all
	// curvature lives in epigraph cones), so no -x'Qx/2 correction applies.
	dualObj := prog.Offset
	for _, blk := range prog.Blocks {
		lam := eq[blk.Name]
		for r, b := range blk.B {
			dualObj += lam[r] * b
		}
	}
	for _, cone := range prog.Cones {
		cd := cones[cone.Name]
		dualObj -= cd.Slack * cone.H
		for r, v0 := range cone.V0 {
			dualObj += cd.Vector[r] * v0
		}
	}
	report.DualObjective = dualObj
	report.DualityGap = math.Abs(pol.Objective-dualObj) / math.Max(1, math.Abs(pol.Objective))
	report.GapWarning = report.DualityGap > gapLimit

	// Stationarity: C - A'lambda + sum(V'u - mu*G) per variable.
	resid := make([]float64, prog.NumVars)
	copy(resid, prog.C)
	for _, blk := range prog.Blocks {
		lam := eq[blk.Name]
		rows, cols := blk.A.Dims()
		for r := 0; r < rows; r++ {
			if lam[r] == 0 {
				continue
			}
			for c := 0; c < cols; c++ {
				if v := blk.A.At(r, c); v != 0 {
					resid[c] -= lam[r] * v
				}
			}
		}
	}
	for _, cone := range prog.Cones {
		cd := cones[cone.Name]
		for c, g := range cone.G {
			if g != 0 {
				resid[c] -= cd.Slack * g
			}
		}
		if cone.V == nil {
			continue
		}
		rows, cols := cone.V.Dims()
		for r := 0; r < rows; r++ {
			if cd.Vector[r] == 0 {
				continue
			}
			for c := 0; c < cols; c++ {
				if v := cone.V.At(r, c); v != 0 {
					resid[c] += cd.Vector[r] * v
				}
			}
		}
	}
	for _, r := range resid {
		if v := math.Abs(r); v > report.Stationarity {
			report.Stationarity = v
		}
	}
	report.StationarityWarning = report.Stationarity > stationarityLimit

	report.Revenue = a.revenue(net, prog, asm, eq, cones, x)
	report.Producers = a.producerAccounts(net, asm, pol)

	a.log.Info("certificate: gap %.2e, stationarity %.2e", report.DualityGap, report.Stationarity)
	if report.GapWarning {
		a.log.Warn("duality gap %.3e exceeds %.0e", report.DualityGap, gapLimit)
	}
	if report.StationarityWarning {
		a.log.Warn("stationarity residual %.3e exceeds %.0e", report.Stationarity, stationarityLimit)
	}
	return report, nil
}

// revenue settles each actor's constraint income by channel. Per variable
// the settlement identity multiplies the stationarity decomposition by the
// primal value: equality blocks pay A'lambda*x, cones pay (mu*G - V'u)*x.
// Cost epigraph cones are the producers' own cost structure, not network
// revenue, and stay out of the table.
func (a *Analyzer) revenue(net *network.NetworkData, prog *ports.ConicProgram, asm *chance.Assembly, eq map[string][]float64, cones map[string]policy.ConeDual, x []float64) policy.RevenueTable {
	n := prog.NumVars
	nominal := make([]float64, n)
	recourse := make([]float64, n)
	limit := make([]float64, n)
	variance := make([]float64, n)

	for _, blk := range prog.Blocks {
		target := nominal
		if blk.Name == "recourse" {
			target = recourse
		}
		lam := eq[blk.Name]
		rows, cols := blk.A.Dims()
		for r := 0; r < rows; r++ {
			if lam[r] == 0 {
				continue
			}
			for c := 0; c < cols; c++ {
				if v := blk.A.At(r, c); v != 0 {
					target[c] += lam[r] * v * x[c]
				}
			}
		}
	}
	for _, cone := range prog.Cones {
		var target []float64
		switch cone.Kind {
		case ports.KindLimit:
			target = limit
		case ports.KindVariance:
			target = variance
		default:
			continue
		}
		cd := cones[cone.Name]
		for c, g := range cone.G {
			if g != 0 {
				target[c] += cd.Slack * g * x[c]
			}
		}
		if cone.V == nil {
			continue
		}
		rows, cols := cone.V.Dims()
		for r := 0; r < rows; r++ {
			if cd.Vector[r] == 0 {
				continue
			}
			for c := 0; c < cols; c++ {
				if v := cone.V.At(r, c); v != 0 {
					target[c] -= cd.Vector[r] * v * x[c]
				}
			}
		}
	}

	row := func(actor string, groups ...string) policy.RevenueRow {
		r := policy.RevenueRow{Actor: actor}
		for _, g := range groups {
			off, length, ok := asm.Vars.Range(g)
			if !ok {
				continue
			}
			for i := off; i < off+length; i++ {
				r.NominalBalance += nominal[i]
				r.RecourseBalance += recourse[i]
				r.NetworkLimit += limit[i]
				r.VarianceControl += variance[i]
			}
		}
		r.Total = r.NominalBalance + r.RecourseBalance + r.NetworkLimit + r.VarianceControl
		return r
	}

	return policy.RevenueTable{Rows: []policy.RevenueRow{
		row("injection", nonconvex.GroupInjection, chance.GroupAlpha, chance.GroupCost),
		row("compression", nonconvex.GroupCompression, chance.GroupBeta),
		row("congestion", nonconvex.GroupPressure, nonconvex.GroupFlow,
			chance.GroupPressureSpread, chance.GroupFlowSpread),
	}}
}

// producerAccounts prices each producer individually: nominal energy at its
// node's balance price, recourse participation at the recourse identity
// prices, against its expected quadratic cost under the policy.
func (a *Analyzer) producerAccounts(net *network.NetworkData, asm *chance.Assembly, pol *policy.Policy) []policy.ProducerAccount {
	d := net.NumDemand()
	out := make([]policy.ProducerAccount, net.NumProducers())
	for p, prod := range net.Producers {
		acct := policy.ProducerAccount{ID: prod.ID}
		inj := pol.Injection[p]
		acct.NominalRevenue = pol.Duals.Balance[net.ProducerNodes[p]] * inj
		for k, node := range net.DemandNodes {
			acct.RecourseRevenue += pol.Duals.Recourse[k] * pol.Alpha.At(p, node)
		}

		// Expected cost: the nominal quadratic term plus the recourse
		// variance term c2*||L'alpha_p||^2 under the covariance factor.
		variance := 0.0
		if asm.Factor != nil {
			for j := 0; j < d; j++ {
				v := 0.0
				for k, node := range net.DemandNodes {
					v += asm.Factor.At(k, j) * pol.Alpha.At(p, node)
				}
				variance += v * v
			}
		}
		acct.Cost = prod.CostQuad*(inj*inj+variance) + prod.CostLin*inj
		acct.Profit = acct.NominalRevenue + acct.RecourseRevenue - acct.Cost
		out[p] = acct
	}
	return out
}

// equalityDuals restates the named bundle as block-name keyed multipliers
// matching the replayed program.
func equalityDuals(pol *policy.Policy) map[string][]float64 {
	return map[string][]float64{
		"balance":  pol.Duals.Balance,
		"flow_lin": pol.Duals.FlowLinear,
		"ref":      {pol.Duals.Reference},
		"recourse": pol.Duals.Recourse,
	}
}

// coneDuals indexes the bundle by the builder's cone names.
func coneDuals(net *network.NetworkData, pol *policy.Policy) map[string]policy.ConeDual {
	out := make(map[string]policy.ConeDual)
	for i := range net.Nodes {
		out[fmt.Sprintf("pressure_hi[%d]", i)] = pol.Duals.PressureHi[i]
		out[fmt.Sprintf("pressure_lo[%d]", i)] = pol.Duals.PressureLo[i]
	}
	for a := range net.ActivePipes {
		out[fmt.Sprintf("flow_sign[%d]", a)] = pol.Duals.FlowLo[a]
		out[fmt.Sprintf("compression_hi[%d]", a)] = pol.Duals.CompressionHi[a]
		out[fmt.Sprintf("compression_lo[%d]", a)] = pol.Duals.CompressionLo[a]
	}
	for p := range net.Producers {
		out[fmt.Sprintf("injection_hi[%d]", p)] = pol.Duals.InjectionHi[p]
		out[fmt.Sprintf("injection_lo[%d]", p)] = pol.Duals.InjectionLo[p]
		out[fmt.Sprintf("cost[%d]", p)] = pol.Duals.Cost[p]
	}
	out[chance.GroupPressureSpread] = pol.Duals.PressureSpread
	out[chance.GroupFlowSpread] = pol.Duals.FlowSpread
	return out
}
