package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./case", cfg.Case.Path)
	assert.False(t, cfg.Run.Deterministic)
	assert.InDelta(t, 0.05, cfg.Run.ViolationBudget, 1e-12)
	assert.Equal(t, 10000, cfg.Run.Samples)
	assert.Equal(t, 100, cfg.Run.ProjectionCap)
	assert.Equal(t, 40, cfg.Solver.MaxOuter)
	assert.Equal(t, 60, cfg.Solver.PicardLimit)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GASPLAN_CASE", "/data/belgian-20")
	t.Setenv("GASPLAN_DETERMINISTIC", "true")
	t.Setenv("GASPLAN_VIOLATION_BUDGET", "0.1")
	t.Setenv("GASPLAN_SAMPLES", "500")
	t.Setenv("GASPLAN_SEED", "99")
	t.Setenv("GASPLAN_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/belgian-20", cfg.Case.Path)
	assert.True(t, cfg.Run.Deterministic)
	assert.InDelta(t, 0.1, cfg.Run.ViolationBudget, 1e-12)
	assert.Equal(t, 500, cfg.Run.Samples)
	assert.Equal(t, int64(99), cfg.Run.Seed)
	assert.Equal(t, 4, cfg.Solver.Workers)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	t.Setenv("GASPLAN_VIOLATION_BUDGET", "1.5")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadSolverConfig(t *testing.T) {
	t.Setenv("GASPLAN_GAP_TOL", "-1")
	_, err := Load()
	assert.Error(t, err)
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("GASPLAN_SAMPLES", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Run.Samples)
}
