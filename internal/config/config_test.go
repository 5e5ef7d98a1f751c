package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 200000, cfg.TotalCapacity)
	assert.Equal(t, 15000, cfg.AnchorReserve)
	assert.Equal(t, 150000, cfg.WorkingSetTarget)
	assert.Equal(t, 35000, cfg.CacheLimit)
	assert.Equal(t, 0.5, cfg.EvictionAggressiveness)
	assert.Equal(t, 0.1, cfg.DecayRate)
	assert.Equal(t, 0.05, cfg.MinPriorityThreshold)
	assert.Equal(t, 0.85, cfg.PressureThreshold)
	assert.Equal(t, 5, cfg.MaxRecalibrationCycles)
	assert.Equal(t, 0.8, cfg.ConfidenceThresholdProceed)
	assert.Equal(t, 0.6, cfg.ConfidenceThresholdCaveat)
	assert.Equal(t, 20, cfg.AttentionDefaultTotal)
	assert.Equal(t, 0.5, cfg.AttentionDeadEndPenalty)
	assert.Equal(t, 0.3, cfg.AttentionDiminishingRate)
	assert.Equal(t, 0.3, cfg.RollupMinScore)
	assert.Equal(t, 0.7, cfg.RollupJaccardThreshold)
	assert.Equal(t, 0.9, cfg.RollupSemanticThreshold)
	assert.Equal(t, 0.15, cfg.CalibrationTolerance)
	assert.Equal(t, 0.05, cfg.GroundedObservationVariance)
	assert.Equal(t, 120*time.Second, cfg.RoundTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EMPIRICA_TOTAL_CAPACITY", "100000")
	t.Setenv("EMPIRICA_ANCHOR_RESERVE", "10000")
	t.Setenv("EMPIRICA_WORKING_SET_TARGET", "70000")
	t.Setenv("EMPIRICA_CACHE_LIMIT", "20000")
	t.Setenv("EMPIRICA_DECAY_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100000, cfg.TotalCapacity)
	assert.Equal(t, 0.25, cfg.DecayRate)
}

func TestValidateRejectsOversizedZones(t *testing.T) {
	t.Setenv("EMPIRICA_TOTAL_CAPACITY", "1000")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("EMPIRICA_CONFIDENCE_THRESHOLD_CAVEAT", "0.9")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeFractions(t *testing.T) {
	t.Setenv("EMPIRICA_PRESSURE_THRESHOLD", "1.5")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("EMPIRICA_PRESSURE_THRESHOLD", "0.85")
	t.Setenv("EMPIRICA_SCOPE_WEIGHT_UNSCOPED", "-0.1")
	_, err = Load()
	assert.Error(t, err)
}

func TestBadEnvValueFallsBackToDefault(t *testing.T) {
	t.Setenv("EMPIRICA_TOTAL_CAPACITY", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200000, cfg.TotalCapacity)
}
