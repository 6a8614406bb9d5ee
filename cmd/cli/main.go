// Command cli runs the full dispatch pipeline for one network case and
// prints the resulting policy, validation statistics and economic
// decomposition.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"gasplan/adapters/caseio"
	"gasplan/adapters/rng"
	"gasplan/adapters/solver/barrier"
	"gasplan/adapters/solver/seqlin"
	"gasplan/app"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/internal/config"
	apperrors "gasplan/internal/errors"
)

func main() {
	if err := run(); err != nil {
		if apperrors.IsAppError(err) {
			internal.DefaultLogger.Error("run failed [%s]: %v", apperrors.GetCode(err), err)
		} else {
			internal.DefaultLogger.Error("run failed: %v", err)
		}
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(os.Args) > 1 {
		cfg.Case.Path = os.Args[1]
	}

	ctx := context.Background()
	c, err := caseio.NewReader(cfg.Case.Path, cfg.Case.Name).ReadCase(ctx)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeCaseInvalid, err)
	}
	net, err := network.Build(c)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeCaseInvalid, err)
	}

	conic := barrier.NewWithOptions(barrier.Options{
		GapTol:    cfg.Solver.GapTol,
		MaxOuter:  cfg.Solver.MaxOuter,
		MaxNewton: cfg.Solver.MaxNewton,
	})
	nonlinear := seqlin.NewWithOptions(conic, seqlin.Options{
		Limit:   cfg.Solver.PicardLimit,
		FlowTol: cfg.Solver.PicardTol,
	})

	svc := app.NewPipelineService(nonlinear, conic, rng.New()).WithWorkers(cfg.Solver.Workers)
	report, err := svc.Run(ctx, net, cfg.Run)
	if err != nil {
		return err
	}
	printReport(net, report)
	return nil
}

func printReport(net *network.NetworkData, r *policy.RunReport) {
	fmt.Printf("run %s  case %q  (%s)\n", r.RunID, r.Case,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("\nnominal operating point  objective %.4f  residual %.2e\n", r.Operating.Objective, r.Operating.Residual)
	for p, prod := range net.Producers {
		fmt.Printf("  producer %-8s injection %10.4f\n", prod.ID, r.Operating.Injection[p])
	}

	pol := r.Policy
	mode := "stochastic"
	if pol.SafetyFactor == 0 {
		mode = "deterministic"
	}
	fmt.Printf("\npolicy (%s)  objective %.4f  safety factor %.4f over %d limits\n",
		mode, pol.Objective, pol.SafetyFactor, pol.ChanceCount)
	for p, prod := range net.Producers {
		fmt.Printf("  producer %-8s nominal %10.4f\n", prod.ID, pol.Injection[p])
	}
	for _, l := range net.ActivePipes {
		fmt.Printf("  compressor %-6s boost   %10.4f\n", net.Pipes[l].ID, pol.Compression[l])
	}
	if pol.SafetyFactor > 0 {
		// Producer share of each demand node's error; compressors absorb
		// the rest.
		nodeAlpha := pol.NodeAlpha(net.ProducerNodes, net.NumNodes())
		for _, k := range net.DemandNodes {
			share := 0.0
			for i := 0; i < net.NumNodes(); i++ {
				share += nodeAlpha.At(i, k)
			}
			fmt.Printf("  node %-10s producer share %8.4f\n", net.Nodes[k].ID, share)
		}
	}

	v := r.Validation
	fmt.Printf("\nout-of-sample  %d samples  violation rate %.4f  mean cost %.4f (p95 %.4f)\n",
		v.Samples, v.ViolationRate, v.MeanCost, v.CostP95)

	d := r.Dual
	fmt.Printf("\ncertificate  primal %.4f  dual %.4f  gap %.2e  stationarity %.2e\n",
		d.PrimalObjective, d.DualObjective, d.DualityGap, d.Stationarity)
	fmt.Printf("\n%-12s %14s %14s %14s %14s %14s\n",
		"actor", "nominal", "recourse", "limits", "variance", "total")
	for _, row := range d.Revenue.Rows {
		fmt.Printf("%-12s %14.4f %14.4f %14.4f %14.4f %14.4f\n",
			row.Actor, row.NominalBalance, row.RecourseBalance, row.NetworkLimit, row.VarianceControl, row.Total)
	}
	fmt.Printf("\n%-12s %14s %14s %14s %14s\n", "producer", "nominal rev", "recourse rev", "cost", "profit")
	for _, acct := range d.Producers {
		fmt.Printf("%-12s %14.4f %14.4f %14.4f %14.4f\n",
			acct.ID, acct.NominalRevenue, acct.RecourseRevenue, acct.Cost, acct.Profit)
	}

	p := r.Projection
	fmt.Printf("\nprojection  %d/%d solved  mean distance %.4f  max %.4f\n",
		p.Solved, p.Attempted, p.MeanDistance, p.MaxDistance)

	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
