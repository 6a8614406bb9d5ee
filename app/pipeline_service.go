// Package app wires the dispatch stages into the one sequential pipeline:
// nominal non-convex solve, linearization, uncertainty model,
// chance-constrained policy, then the three diagnostics. Backends come in
// through ports so any compliant solver can be swapped underneath.
package app

import (
	"context"
	"fmt"
	"time"

	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/domain/policy"
	"gasplan/internal"
	"gasplan/internal/chance"
	"gasplan/internal/dual"
	apperrors "gasplan/internal/errors"
	"gasplan/internal/forecast"
	"gasplan/internal/linearize"
	"gasplan/internal/nonconvex"
	"gasplan/internal/projection"
	"gasplan/internal/validate"
	"gasplan/ports"
)

// PipelineService runs the full policy pipeline for one network case.
type PipelineService struct {
	nonlinear ports.NonlinearSolver
	conic     ports.ConicSolver
	rng       ports.RNGPort
	workers   int
	log       *internal.Logger
}

// NewPipelineService assembles the service from its solver and RNG ports.
func NewPipelineService(nonlinear ports.NonlinearSolver, conic ports.ConicSolver, rng ports.RNGPort) *PipelineService {
	return &PipelineService{
		nonlinear: nonlinear,
		conic:     conic,
		rng:       rng,
		log:       internal.DefaultLogger.Tagged("Pipeline"),
	}
}

// WithWorkers bounds the sampling-stage parallelism; zero means GOMAXPROCS.
func (s *PipelineService) WithWorkers(n int) *PipelineService {
	s.workers = n
	return s
}

// Run executes the stages strictly in order. Solver non-convergence aborts
// the run at its stage; every other diagnostic finding is carried into the
// report as a warning and the pipeline completes.
func (s *PipelineService) Run(ctx context.Context, net *network.NetworkData, set policy.Settings) (*policy.RunReport, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	report := &policy.RunReport{
		RunID:     core.RunID(core.NewID()),
		Case:      net.Name,
		Settings:  set,
		StartedAt: time.Now(),
	}
	s.log.Info("run %s: case %q, %d nodes, %d pipes, %d producers",
		report.RunID, net.Name, net.NumNodes(), net.NumPipes(), net.NumProducers())

	// Stage 1: nominal non-convex operating point.
	op, flowSol, err := nonconvex.New(s.nonlinear).Solve(ctx, net)
	if err != nil {
		return nil, apperrors.SolveFailed("nominal flow", err)
	}
	report.Operating = op

	// Stage 2: linearization around the operating point.
	lin, err := linearize.New(s.conic).Linearize(ctx, net, op, flowSol.Jacobian)
	if err != nil {
		return nil, apperrors.StageFailed("linearization", err)
	}
	report.Linearization = lin
	if lin.BifurcationRisk {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("bifurcation proximity: max sensitivity %.3e", lin.MaxSensitivity))
	}
	if lin.QualityWarning {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("linearization quality gap %.3f pressure-squared units", lin.QualityGap))
	}

	// Stage 3: demand-error model and the shared sample bank.
	gen := forecast.NewGenerator(s.rng)
	model, err := gen.Build(net, set)
	if err != nil {
		return nil, apperrors.StageFailed("forecast", err)
	}
	samples, err := gen.Sample(ctx, model, set.Samples, set.Seed)
	if err != nil {
		return nil, apperrors.StageFailed("forecast sampling", err)
	}

	// Stage 4: chance-constrained policy.
	pol, err := chance.New(s.conic).Solve(ctx, net, lin, model, set)
	if err != nil {
		return nil, apperrors.SolveFailed("chance-constrained dispatch", err)
	}
	report.Policy = pol

	// Diagnostics: all three complete regardless of what they find.
	report.Validation, err = validate.NewWithWorkers(s.workers).Validate(ctx, net, lin, pol, samples, set)
	if err != nil {
		return nil, apperrors.StageFailed("out-of-sample validation", err)
	}

	report.Dual, err = dual.New().Analyze(net, lin, model, set, pol)
	if err != nil {
		return nil, apperrors.StageFailed("dual analysis", err)
	}
	if report.Dual.GapWarning {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("duality gap %.3e", report.Dual.DualityGap))
	}
	if report.Dual.StationarityWarning {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("stationarity residual %.3e", report.Dual.Stationarity))
	}

	report.Projection, err = projection.New(s.conic).Analyze(ctx, net, lin, pol, samples, set)
	if err != nil {
		return nil, apperrors.StageFailed("projection analysis", err)
	}

	report.FinishedAt = time.Now()
	s.log.Info("run %s finished in %s with %d warnings",
		report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), len(report.Warnings))
	return report, nil
}
