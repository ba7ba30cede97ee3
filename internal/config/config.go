// Package config provides configuration loading for the adaptive memory
// engine. Every weighting constant, threshold and cadence the engine uses
// lives here so tests can steer behavior across threshold boundaries.
//
// Precedence (highest to lowest): environment variables, YAML config file,
// built-in defaults. Environment variables are uppercased with underscore
// separators, e.g. ADAPTIVE_LEARNING_EXPLICIT_CONFIDENCE maps to
// learning.explicit_confidence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ADAPTIVE_"

// Database holds persistence settings.
type Database struct {
	Path string `koanf:"path"`
}

// Learning holds feedback integration settings.
type Learning struct {
	// Source-tier base confidences. Only configuration may change these;
	// events never adjust their own tier.
	ExplicitConfidence   float64 `koanf:"explicit_confidence"`
	ImplicitConfidence   float64 `koanf:"implicit_confidence"`
	BehavioralConfidence float64 `koanf:"behavioral_confidence"`

	// LookbackWindow bounds conflict detection between signals.
	LookbackWindow time.Duration `koanf:"lookback_window"`
	// SpecificityThreshold is the minimum similarity for one signal to count
	// as a refinement of another.
	SpecificityThreshold float64 `koanf:"specificity_threshold"`
	// RecencyEpsilon is the gap under which two contradicting signals count
	// as equally recent. Two explicit, equally specific signals inside it
	// are an unresolvable conflict.
	RecencyEpsilon time.Duration `koanf:"recency_epsilon"`
	// StreakLength is how many consistent recent observations outweigh a
	// single older contradiction.
	StreakLength int `koanf:"streak_length"`
	// MinRepeat is how often a behavioral dimension must repeat inside its
	// window before it produces a learning update.
	MinRepeat int `koanf:"min_repeat"`

	IgnoredDecrement float64 `koanf:"ignored_decrement"`
	ReinforceDelta   float64 `koanf:"reinforce_delta"`
	CorrectionWeaken float64 `koanf:"correction_weaken"`
	// RuleMergeThreshold is the condition similarity above which a new rule
	// merges into an existing one instead of stacking.
	RuleMergeThreshold float64 `koanf:"rule_merge_threshold"`
}

// Retrieval holds memory recall settings.
type Retrieval struct {
	TopK int `koanf:"top_k"`
}

// Scheduler holds forgetting-prevention settings.
type Scheduler struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// DecayTau is the time constant of the saturating decay curve.
	DecayTau time.Duration `koanf:"decay_tau"`
	// MaxDecay is the importance loss a sweep approaches as elapsed time
	// grows without bound.
	MaxDecay float64 `koanf:"max_decay"`
	// CriticalThreshold auto-protects entries whose importance reaches it.
	CriticalThreshold float64       `koanf:"critical_threshold"`
	RehearsalBase     time.Duration `koanf:"rehearsal_base"`
	RehearsalFactor   float64       `koanf:"rehearsal_factor"`
	// RehearsalBoost is the importance gain per completed rehearsal.
	RehearsalBoost float64 `koanf:"rehearsal_boost"`
	// EvictionFloor is the importance below which unprotected entries become
	// eviction candidates.
	EvictionFloor float64 `koanf:"eviction_floor"`
}

// Decision holds meta-reasoning settings.
type Decision struct {
	AutonomousThreshold float64 `koanf:"autonomous_threshold"`
	MidThreshold        float64 `koanf:"mid_threshold"`
	// RuleMatchThreshold is the minimum condition similarity for a rule's
	// action to become the candidate action.
	RuleMatchThreshold float64 `koanf:"rule_match_threshold"`
	// AmbiguityFloor is the minimum retrieval similarity for a low-confidence
	// stimulus to warrant a clarifying question instead of silent learning.
	AmbiguityFloor float64 `koanf:"ambiguity_floor"`

	RuleWeight       float64 `koanf:"rule_weight"`
	PreferenceWeight float64 `koanf:"preference_weight"`
	HistoryWeight    float64 `koanf:"history_weight"`
	IntrusionWeight  float64 `koanf:"intrusion_weight"`
}

// Alignment holds value-alignment gate settings.
type Alignment struct {
	// BlockStrength is the preference strength at which a contrary
	// preference forces confirmation.
	BlockStrength float64 `koanf:"block_strength"`
	// MatchThreshold is the similarity at which a prohibition rule applies
	// to a candidate action.
	MatchThreshold float64 `koanf:"match_threshold"`
}

// Config is the root configuration for one engine instance.
type Config struct {
	Database  Database  `koanf:"database"`
	Learning  Learning  `koanf:"learning"`
	Retrieval Retrieval `koanf:"retrieval"`
	Scheduler Scheduler `koanf:"scheduler"`
	Decision  Decision  `koanf:"decision"`
	Alignment Alignment `koanf:"alignment"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Path: ""},
		Learning: Learning{
			ExplicitConfidence:   0.9,
			ImplicitConfidence:   0.6,
			BehavioralConfidence: 0.35,
			LookbackWindow:       14 * 24 * time.Hour,
			RecencyEpsilon:       time.Hour,
			SpecificityThreshold: 0.5,
			StreakLength:         3,
			MinRepeat:            3,
			IgnoredDecrement:     0.15,
			ReinforceDelta:       0.1,
			CorrectionWeaken:     0.3,
			RuleMergeThreshold:   0.75,
		},
		Retrieval: Retrieval{TopK: 10},
		Scheduler: Scheduler{
			SweepInterval:     time.Hour,
			DecayTau:          72 * time.Hour,
			MaxDecay:          0.2,
			CriticalThreshold: 0.8,
			RehearsalBase:     24 * time.Hour,
			RehearsalFactor:   2.0,
			RehearsalBoost:    0.05,
			EvictionFloor:     0.1,
		},
		Decision: Decision{
			AutonomousThreshold: 0.8,
			MidThreshold:        0.5,
			RuleMatchThreshold:  0.4,
			AmbiguityFloor:      0.15,
			RuleWeight:          0.45,
			PreferenceWeight:    0.25,
			HistoryWeight:       0.15,
			IntrusionWeight:     0.15,
		},
		Alignment: Alignment{
			BlockStrength:  0.8,
			MatchThreshold: 0.4,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and the
// environment, in ascending precedence.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// ADAPTIVE_LEARNING_EXPLICIT_CONFIDENCE -> learning.explicit_confidence
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges. It returns the first problem found.
func (c Config) Validate() error {
	unit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be in [0,1], got %v", name, v)
		}
		return nil
	}
	checks := []struct {
		name string
		v    float64
	}{
		{"learning.explicit_confidence", c.Learning.ExplicitConfidence},
		{"learning.implicit_confidence", c.Learning.ImplicitConfidence},
		{"learning.behavioral_confidence", c.Learning.BehavioralConfidence},
		{"learning.specificity_threshold", c.Learning.SpecificityThreshold},
		{"scheduler.max_decay", c.Scheduler.MaxDecay},
		{"scheduler.critical_threshold", c.Scheduler.CriticalThreshold},
		{"scheduler.eviction_floor", c.Scheduler.EvictionFloor},
		{"scheduler.rehearsal_boost", c.Scheduler.RehearsalBoost},
		{"decision.autonomous_threshold", c.Decision.AutonomousThreshold},
		{"decision.mid_threshold", c.Decision.MidThreshold},
	}
	for _, ch := range checks {
		if err := unit(ch.name, ch.v); err != nil {
			return err
		}
	}
	if c.Decision.MidThreshold >= c.Decision.AutonomousThreshold {
		return fmt.Errorf("config: decision.mid_threshold must be below decision.autonomous_threshold")
	}
	if c.Learning.MinRepeat < 1 {
		return fmt.Errorf("config: learning.min_repeat must be at least 1")
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("config: retrieval.top_k must be at least 1")
	}
	if c.Scheduler.RehearsalFactor < 1 {
		return fmt.Errorf("config: scheduler.rehearsal_factor must be at least 1")
	}
	return nil
}
