package model

import "time"

// FeedbackKind discriminates the FeedbackEvent union.
type FeedbackKind string

const (
	FeedbackCorrection  FeedbackKind = "correction"
	FeedbackRule        FeedbackKind = "rule_definition"
	FeedbackPreference  FeedbackKind = "preference_statement"
	FeedbackImplicit    FeedbackKind = "implicit_signal"
	FeedbackObservation FeedbackKind = "behavioral_observation"
)

// Outcome is the user's reaction to a delivered suggestion.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeModified Outcome = "modified"
	OutcomeIgnored  Outcome = "ignored"
)

// Correction is explicit feedback that a behavior was wrong.
type Correction struct {
	Wrong string `json:"wrong"`
	Right string `json:"right"`
	Tone  string `json:"tone,omitempty"`
}

// RuleDefinition is an explicitly stated rule.
type RuleDefinition struct {
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

// PreferenceStatement is an explicitly stated preference.
type PreferenceStatement struct {
	Category string  `json:"category"`
	Text     string  `json:"text"`
	Strength float64 `json:"strength"`
}

// ImplicitSignal reports how the user reacted to a suggestion.
type ImplicitSignal struct {
	SuggestionID string  `json:"suggestion_id"`
	Outcome      Outcome `json:"outcome"`
	// KeptPortion and RemovedPortion describe a modified suggestion.
	KeptPortion    string `json:"kept_portion,omitempty"`
	RemovedPortion string `json:"removed_portion,omitempty"`
}

// BehavioralObservation is a raw trace of observed behavior. Observations
// only become learning updates once the same dimension repeats enough times
// inside its window.
type BehavioralObservation struct {
	Dimension string        `json:"dimension"`
	Value     string        `json:"value"`
	Window    time.Duration `json:"window"`
}

// FeedbackEvent is the closed tagged union of all feedback the integrator
// consumes. Exactly one of the pointer fields matching Kind is set.
type FeedbackEvent struct {
	ID         string       `json:"id"`
	Kind       FeedbackKind `json:"kind"`
	Confidence float64      `json:"confidence"`
	OccurredAt time.Time    `json:"occurred_at"`

	Correction  *Correction            `json:"correction,omitempty"`
	Rule        *RuleDefinition        `json:"rule,omitempty"`
	Preference  *PreferenceStatement   `json:"preference,omitempty"`
	Implicit    *ImplicitSignal        `json:"implicit,omitempty"`
	Observation *BehavioralObservation `json:"observation,omitempty"`
}

// Source returns the tier the event belongs to. Corrections, rules and
// preference statements are explicit by definition.
func (e FeedbackEvent) Source() Source {
	switch e.Kind {
	case FeedbackCorrection, FeedbackRule, FeedbackPreference:
		return SourceExplicit
	case FeedbackImplicit:
		return SourceImplicit
	default:
		return SourceBehavioral
	}
}
