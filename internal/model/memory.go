// Package model defines the core data types for the adaptive memory engine.
package model

import (
	"strings"
	"time"
)

// Kind classifies a memory entry within the hierarchy.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindPreference Kind = "preference"
)

// ValidKinds are the allowed memory kinds.
var ValidKinds = map[Kind]bool{
	KindEpisodic:   true,
	KindSemantic:   true,
	KindProcedural: true,
	KindPreference: true,
}

// Source identifies the tier a signal or preference came from.
type Source string

const (
	SourceExplicit   Source = "explicit"
	SourceImplicit   Source = "implicit"
	SourceBehavioral Source = "behavioral"
)

// ValidSources are the allowed signal sources.
var ValidSources = map[Source]bool{
	SourceExplicit:   true,
	SourceImplicit:   true,
	SourceBehavioral: true,
}

// Rank orders source tiers for precedence checks. Higher outranks lower,
// independent of timestamps.
func (s Source) Rank() int {
	switch s {
	case SourceExplicit:
		return 3
	case SourceImplicit:
		return 2
	case SourceBehavioral:
		return 1
	default:
		return 0
	}
}

// MemoryEntry is a single entry in the hierarchical memory store.
//
// Importance stays in [0,1] and is only adjusted through the store's
// Reinforce/Decay paths. Protected entries are immune to eviction and
// scheduler decay.
type MemoryEntry struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	Content          string     `json:"content"`
	Importance       float64    `json:"importance"`
	CreatedAt        time.Time  `json:"created_at"`
	LastAccessedAt   time.Time  `json:"last_accessed_at"`
	LastReinforcedAt *time.Time `json:"last_reinforced_at,omitempty"`
	AccessCount      int        `json:"access_count"`
	Protected        bool       `json:"protected"`
}

// Preference is a durable statement about what the user wants.
// At most one live preference exists per (category, normalized statement).
type Preference struct {
	ID              string    `json:"id"`
	Category        string    `json:"category"`
	Statement       string    `json:"statement"`
	Strength        float64   `json:"strength"`
	Source          Source    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
}

// Rule is an explicit condition-action mapping. Rules are definitionally
// explicit-source; near-duplicate conditions merge rather than stack.
type Rule struct {
	ID        string    `json:"id"`
	Condition string    `json:"condition"`
	Action    string    `json:"action"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeStatement canonicalizes preference statements for the
// one-live-preference-per-statement invariant.
func NormalizeStatement(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
