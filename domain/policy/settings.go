package policy

import "gasplan/domain/core"

// Settings collects every tunable of a dispatch run. Zero-value is not
// usable; start from Defaults and override.
type Settings struct {
	// Deterministic drops the safety factor to zero so every chance
	// constraint collapses to its nominal limit. The recourse terms stay in
	// the objective either way.
	Deterministic bool `json:"deterministic"`
	// ViolationBudget is the total violation probability split uniformly
	// across the chance-constrained limits (Bonferroni).
	ViolationBudget float64 `json:"violation_budget"`
	// ErrorScale sets each demand node's forecast-error standard deviation
	// as a fraction of its nominal demand.
	ErrorScale float64 `json:"error_scale"`
	// Correlation is the common pairwise correlation between demand errors.
	Correlation float64 `json:"correlation"`
	// PressurePenalty and FlowPenalty price the dispersion of the pressure
	// and flow responses in the objective.
	PressurePenalty float64 `json:"pressure_penalty"`
	FlowPenalty     float64 `json:"flow_penalty"`
	// Samples is the Monte Carlo sample count for out-of-sample validation.
	Samples int `json:"samples"`
	// ProjectionCap bounds how many samples the projection diagnostic
	// re-dispatches.
	ProjectionCap int `json:"projection_cap"`
	// ViolationTolerance is the numeric slack applied before a sampled
	// bound crossing counts as a violation.
	ViolationTolerance float64 `json:"violation_tolerance"`
	// Seed feeds every named random stream of the run.
	Seed int64 `json:"seed"`
}

// Defaults returns the standard run configuration.
func Defaults() Settings {
	return Settings{
		Deterministic:      false,
		ViolationBudget:    0.05,
		ErrorScale:         0.10,
		Correlation:        0,
		PressurePenalty:    0.01,
		FlowPenalty:        0.01,
		Samples:            10000,
		ProjectionCap:      100,
		ViolationTolerance: 1e-4,
		Seed:               1,
	}
}

// Validate rejects settings that would make a run meaningless.
func (s Settings) Validate() error {
	if s.ViolationBudget <= 0 || s.ViolationBudget >= 1 {
		return core.NewSettingsError("violation_budget", "must lie strictly between 0 and 1")
	}
	if s.ErrorScale < 0 {
		return core.NewSettingsError("error_scale", "must be nonnegative")
	}
	if s.Correlation <= -1 || s.Correlation >= 1 {
		// Whether a negative value keeps the covariance positive definite
		// depends on the demand-node count; the forecast builder has the
		// final say.
		return core.NewSettingsError("correlation", "must lie in (-1, 1)")
	}
	if s.PressurePenalty < 0 || s.FlowPenalty < 0 {
		return core.NewSettingsError("penalties", "must be nonnegative")
	}
	if s.Samples <= 0 {
		return core.NewSettingsError("samples", "must be positive")
	}
	if s.ProjectionCap < 0 {
		return core.NewSettingsError("projection_cap", "must be nonnegative")
	}
	if s.ViolationTolerance < 0 {
		return core.NewSettingsError("violation_tolerance", "must be nonnegative")
	}
	return nil
}
