package model

import "time"

// Mode is the action mode a decision resolves to.
type Mode string

const (
	ModeAutonomousExecute Mode = "autonomous_execute"
	ModeSuggest           Mode = "suggest"
	ModeAskClarification  Mode = "ask_clarification"
	ModeSilentLearn       Mode = "silent_learn"
)

// Verdict is the value-alignment gate's judgment of a candidate action.
type Verdict string

const (
	VerdictAllowed           Verdict = "allowed"
	VerdictBlocked           Verdict = "blocked"
	VerdictNeedsConfirmation Verdict = "needs_confirmation"
)

// Stakes hints how costly an unwanted autonomous action would be.
type Stakes string

const (
	StakesLow    Stakes = "low"
	StakesNormal Stakes = "normal"
	StakesHigh   Stakes = "high"
)

// Stimulus is one input the decision engine deliberates over.
type Stimulus struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Stakes     Stakes    `json:"stakes"`
	Tags       []string  `json:"tags,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Factor is one weighted contribution to a decision, kept for explanation.
type Factor struct {
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Decision is the engine's resolution of a stimulus. Factors are ordered by
// contribution and always populated; auditability is part of the contract.
type Decision struct {
	ID               string    `json:"id"`
	StimulusID       string    `json:"stimulus_id"`
	StimulusText     string    `json:"stimulus_text"`
	Mode             Mode      `json:"mode"`
	Confidence       float64   `json:"confidence"`
	ChosenAction     string    `json:"chosen_action,omitempty"`
	Factors          []Factor  `json:"factors"`
	AlignmentVerdict Verdict   `json:"alignment_verdict"`
	DecidedAt        time.Time `json:"decided_at"`
}
