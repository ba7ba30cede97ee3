package model

import "time"

// Operation is what a LearningUpdate does to its target.
type Operation string

const (
	OpCreate    Operation = "create"
	OpReinforce Operation = "reinforce"
	OpWeaken    Operation = "weaken"
	OpSupersede Operation = "supersede"
)

// TargetKind identifies what a LearningUpdate is aimed at.
type TargetKind string

const (
	TargetPreference TargetKind = "preference"
	TargetRule       TargetKind = "rule"
	TargetMemory     TargetKind = "memory"
)

// Target addresses the record a LearningUpdate mutates. For OpCreate the ID
// is empty and the payload fields describe the record to build.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`

	// Payload for create/supersede of preferences.
	Category  string `json:"category,omitempty"`
	Statement string `json:"statement,omitempty"`
	// Payload for create/supersede of rules.
	Condition string `json:"condition,omitempty"`
	Action    string `json:"action,omitempty"`
	// Payload for create of memory entries.
	MemoryKind Kind   `json:"memory_kind,omitempty"`
	Content    string `json:"content,omitempty"`

	Source Source `json:"source,omitempty"`
}

// LearningUpdate is the normalized output of feedback integration. It is
// applied atomically by the store; a failed apply leaves no partial state.
type LearningUpdate struct {
	ID                  string    `json:"id"`
	Target              Target    `json:"target"`
	Operation           Operation `json:"operation"`
	Delta               float64   `json:"delta"`
	ResultingConfidence float64   `json:"resulting_confidence"`
	Rationale           []string  `json:"rationale"`
	CreatedAt           time.Time `json:"created_at"`
}
