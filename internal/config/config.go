package config

import (
	"os"
	"strconv"

	"gasplan/domain/policy"
	"gasplan/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Case   CaseConfig
	Run    policy.Settings
	Solver SolverConfig
}

// CaseConfig locates the network case on disk.
type CaseConfig struct {
	// Path is a directory of CSV tables or a single .xlsx workbook.
	Path string
	// Name labels the run; defaults to the path basename when empty.
	Name string
}

// SolverConfig holds backend tuning knobs shared by both solver adapters.
type SolverConfig struct {
	// GapTol is the conic solver's target complementarity gap.
	GapTol float64
	// MaxOuter caps barrier continuation rounds; MaxNewton caps centering
	// steps per round.
	MaxOuter  int
	MaxNewton int
	// PicardLimit caps successive-linearization rounds of the nominal
	// solve; PicardTol is its flow fixed-point tolerance.
	PicardLimit int
	PicardTol   float64
	// Workers bounds sampling-stage parallelism; zero means GOMAXPROCS.
	Workers int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Case: CaseConfig{
			Path: getEnvOrDefault("GASPLAN_CASE", "./case"),
			Name: getEnvOrDefault("GASPLAN_CASE_NAME", ""),
		},
		Run:    loadRunSettings(),
		Solver: loadSolverConfig(),
	}

	if cfg.Case.Path == "" {
		return nil, errors.ConfigInvalid("GASPLAN_CASE is required")
	}
	if err := cfg.Run.Validate(); err != nil {
		return nil, errors.Wrap(err, "run settings validation failed")
	}
	if err := validateSolver(cfg.Solver); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRunSettings() policy.Settings {
	s := policy.Defaults()
	s.Deterministic = getEnvBoolOrDefault("GASPLAN_DETERMINISTIC", s.Deterministic)
	s.ViolationBudget = getEnvFloatOrDefault("GASPLAN_VIOLATION_BUDGET", s.ViolationBudget)
	s.ErrorScale = getEnvFloatOrDefault("GASPLAN_ERROR_SCALE", s.ErrorScale)
	s.Correlation = getEnvFloatOrDefault("GASPLAN_CORRELATION", s.Correlation)
	s.PressurePenalty = getEnvFloatOrDefault("GASPLAN_PRESSURE_PENALTY", s.PressurePenalty)
	s.FlowPenalty = getEnvFloatOrDefault("GASPLAN_FLOW_PENALTY", s.FlowPenalty)
	s.Samples = getEnvIntOrDefault("GASPLAN_SAMPLES", s.Samples)
	s.ProjectionCap = getEnvIntOrDefault("GASPLAN_PROJECTION_CAP", s.ProjectionCap)
	s.ViolationTolerance = getEnvFloatOrDefault("GASPLAN_VIOLATION_TOLERANCE", s.ViolationTolerance)
	s.Seed = int64(getEnvIntOrDefault("GASPLAN_SEED", int(s.Seed)))
	return s
}

func loadSolverConfig() SolverConfig {
	return SolverConfig{
		GapTol:      getEnvFloatOrDefault("GASPLAN_GAP_TOL", 1e-9),
		MaxOuter:    getEnvIntOrDefault("GASPLAN_MAX_OUTER", 40),
		MaxNewton:   getEnvIntOrDefault("GASPLAN_MAX_NEWTON", 60),
		PicardLimit: getEnvIntOrDefault("GASPLAN_PICARD_LIMIT", 60),
		PicardTol:   getEnvFloatOrDefault("GASPLAN_PICARD_TOL", 1e-8),
		Workers:     getEnvIntOrDefault("GASPLAN_WORKERS", 0),
	}
}

func validateSolver(s SolverConfig) error {
	if s.GapTol <= 0 {
		return errors.ConfigInvalid("GASPLAN_GAP_TOL must be positive")
	}
	if s.MaxOuter <= 0 || s.MaxNewton <= 0 || s.PicardLimit <= 0 {
		return errors.ConfigInvalid("solver iteration limits must be positive")
	}
	if s.PicardTol <= 0 {
		return errors.ConfigInvalid("GASPLAN_PICARD_TOL must be positive")
	}
	if s.Workers < 0 {
		return errors.ConfigInvalid("GASPLAN_WORKERS must be nonnegative")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
