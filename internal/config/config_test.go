package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
retrieval:
  top_k: 5
scheduler:
  decay_tau: 48h
learning:
  explicit_confidence: 0.95
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Retrieval.TopK)
	require.Equal(t, 48*time.Hour, cfg.Scheduler.DecayTau)
	require.Equal(t, 0.95, cfg.Learning.ExplicitConfidence)
	// Untouched keys keep their defaults.
	require.Equal(t, 0.6, cfg.Learning.ImplicitConfidence)
	require.Equal(t, 0.8, cfg.Decision.AutonomousThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 5\n"), 0o644))
	t.Setenv("ADAPTIVE_RETRIEVAL_TOP_K", "3")
	t.Setenv("ADAPTIVE_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Retrieval.TopK)
	require.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Learning.ExplicitConfidence = 1.5
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Decision.MidThreshold = 0.9 // above autonomous
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Learning.MinRepeat = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Scheduler.RehearsalFactor = 0.5
	require.Error(t, cfg.Validate())
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Retrieval.TopK, cfg.Retrieval.TopK)
}
