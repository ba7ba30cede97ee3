// Package engine implements meta-reasoning over stimuli: retrieve relevant
// memories, rules and preferences, score an overall confidence, pass the
// candidate action through the alignment gate, and resolve one of four
// action modes. Every decision carries its weighted factors so the outcome
// can be explained afterwards.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/align"
	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/index"
	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

// Engine resolves stimuli into decisions.
type Engine struct {
	cfg  config.Config
	st   *store.Store
	gate align.Gate
	log  *zap.Logger
	now  func() time.Time
}

// New returns an engine deciding against st, gated by gate.
func New(st *store.Store, gate align.Gate, cfg config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:  cfg,
		st:   st,
		gate: gate,
		log:  logger.With(zap.String("component", "engine")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// term is one scored contribution to the overall confidence. Terms without
// evidence are excluded and the remaining weights renormalized, so a stimulus
// with only rule evidence is judged on that evidence alone.
type term struct {
	weight float64
	score  float64
	desc   string
}

// ProcessStimulus runs the full deliberation for one stimulus and records
// the resulting decision in the history log.
func (e *Engine) ProcessStimulus(ctx context.Context, st model.Stimulus) (*model.Decision, error) {
	if st.Text == "" {
		return nil, &model.ValidationError{Field: "stimulus", Reason: "text must not be empty"}
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.ObservedAt.IsZero() {
		st.ObservedAt = e.now()
	}
	if st.Stakes == "" {
		st.Stakes = model.StakesNormal
	}

	recalled, err := e.st.Recall(ctx, store.RecallParams{Query: st.Text, K: e.cfg.Retrieval.TopK})
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	history, err := e.st.SimilarDecisions(ctx, st.Text, e.cfg.Retrieval.TopK)
	if err != nil {
		return nil, fmt.Errorf("decision history: %w", err)
	}

	var terms []term
	bestSim := 0.0
	for _, r := range recalled {
		if r.Score > bestSim {
			bestSim = r.Score
		}
	}

	// Rule match. A matched rule contributes its full strength and supplies
	// the candidate action.
	var action string
	rule, ruleSim := e.bestRule(ctx, st.Text)
	if rule != nil && ruleSim >= e.cfg.Decision.RuleMatchThreshold {
		action = rule.Action
		terms = append(terms, term{
			weight: e.cfg.Decision.RuleWeight,
			score:  rule.Strength,
			desc:   fmt.Sprintf("rule %q matched (similarity %.2f, strength %.2f)", rule.Condition, ruleSim, rule.Strength),
		})
		if ruleSim > bestSim {
			bestSim = ruleSim
		}
	}

	// Preference alignment against the candidate action, or against the
	// stimulus itself when no rule supplied one. Every matching preference
	// contributes, weighted by how closely its statement matches.
	subject := action
	if subject == "" {
		subject = st.Text
	}
	if score, n, closest := e.preferenceAlignment(ctx, subject); n > 0 {
		terms = append(terms, term{
			weight: e.cfg.Decision.PreferenceWeight,
			score:  score,
			desc:   fmt.Sprintf("%d preference(s) aligned (closest %q, strength %.2f)", n, closest.Statement, closest.Strength),
		})
	}

	// Historical consistency: the similarity-weighted share of past decisions
	// over similar stimuli that resolved to the same action the candidate
	// points at. History that contradicts the candidate lowers confidence.
	if len(history) > 0 {
		var total, agree float64
		for _, h := range history {
			total += h.Score
			if e.actionsAgree(action, h.Decision.ChosenAction) {
				agree += h.Score
			}
		}
		if total > 0 {
			terms = append(terms, term{
				weight: e.cfg.Decision.HistoryWeight,
				score:  clamp01(agree / total),
				desc:   fmt.Sprintf("%d similar past decisions, agreement %.2f", len(history), agree/total),
			})
		}
	}

	// Intrusion cost: acting uninvited is cheap at low stakes, expensive at
	// high stakes.
	terms = append(terms, term{
		weight: e.cfg.Decision.IntrusionWeight,
		score:  intrusionTolerance(st.Stakes),
		desc:   fmt.Sprintf("intrusion tolerance at %s stakes", st.Stakes),
	})

	confidence := combine(terms)
	eval := e.gate.Evaluate(ctx, action, st.Stakes)

	// The gate caps the mode, it never raises it. NeedsConfirmation forbids
	// autonomous execution; a candidate the gate wants confirmed but that
	// scores below the mid threshold is still too uncertain to surface, so it
	// falls through to clarification or silent learning like any other weak
	// candidate.
	var mode model.Mode
	switch {
	case eval.Verdict == model.VerdictBlocked:
		mode = model.ModeAskClarification
		action = ""
	case action != "" && eval.Verdict == model.VerdictAllowed && confidence >= e.cfg.Decision.AutonomousThreshold:
		mode = model.ModeAutonomousExecute
	case action != "" && confidence >= e.cfg.Decision.MidThreshold:
		mode = model.ModeSuggest
	case bestSim >= e.cfg.Decision.AmbiguityFloor:
		mode = model.ModeAskClarification
	default:
		mode = model.ModeSilentLearn
	}

	factors := make([]model.Factor, 0, len(terms)+1)
	for _, t := range terms {
		factors = append(factors, model.Factor{Description: t.desc, Weight: t.weight * t.score})
	}
	if eval.Verdict != model.VerdictAllowed {
		factors = append(factors, model.Factor{Description: "alignment gate: " + eval.Reason, Weight: 0})
	}
	sort.SliceStable(factors, func(i, j int) bool { return factors[i].Weight > factors[j].Weight })

	d := model.Decision{
		ID:               uuid.NewString(),
		StimulusID:       st.ID,
		StimulusText:     st.Text,
		Mode:             mode,
		Confidence:       confidence,
		ChosenAction:     action,
		Factors:          factors,
		AlignmentVerdict: eval.Verdict,
		DecidedAt:        e.now(),
	}
	if err := e.st.RecordDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	if mode == model.ModeSilentLearn {
		if _, err := e.st.AddObservation(ctx, "stimulus", st.Text, st.ObservedAt); err != nil {
			return nil, fmt.Errorf("record silent observation: %w", err)
		}
	}

	e.log.Info("stimulus decided",
		zap.String("stimulus_id", st.ID),
		zap.String("mode", string(mode)),
		zap.Float64("confidence", confidence),
		zap.String("verdict", string(eval.Verdict)))
	return &d, nil
}

// bestRule returns the rule whose condition is most similar to text.
func (e *Engine) bestRule(ctx context.Context, text string) (*model.Rule, float64) {
	var best *model.Rule
	bestSim := 0.0
	for _, r := range e.st.ListRules(ctx) {
		sim := index.TextSimilarity(text, r.Condition)
		if sim > bestSim {
			rr := r
			best, bestSim = &rr, sim
		}
	}
	return best, bestSim
}

// preferenceAlignment aggregates every preference whose statement matches
// subject at the rule match threshold. Matches contribute their strength
// weighted by similarity, so one strong preference cannot drown out several
// weaker ones pointing the other way. Returns the aggregate score, the number
// of matches and the closest match for the explanation factor.
func (e *Engine) preferenceAlignment(ctx context.Context, subject string) (float64, int, *model.Preference) {
	var wsum, ssum, bestSim float64
	var n int
	var closest *model.Preference
	for _, p := range e.st.ListPreferences(ctx) {
		sim := index.TextSimilarity(subject, p.Statement)
		if sim < e.cfg.Decision.RuleMatchThreshold {
			continue
		}
		n++
		wsum += sim
		ssum += sim * p.Strength
		if sim > bestSim || (sim == bestSim && closest != nil && p.Strength > closest.Strength) {
			pp := p
			closest, bestSim = &pp, sim
		}
	}
	if n == 0 || wsum == 0 {
		return 0, 0, nil
	}
	return clamp01(ssum / wsum), n, closest
}

// actionsAgree reports whether a past decision resolved the same way the
// current candidate would: both chose no action, or both chose actions
// similar enough to describe the same behavior.
func (e *Engine) actionsAgree(candidate, past string) bool {
	if candidate == "" || past == "" {
		return candidate == past
	}
	return index.TextSimilarity(candidate, past) >= e.cfg.Decision.RuleMatchThreshold
}

// combine renormalizes term weights over the evidence that is present and
// returns the weighted average score.
func combine(terms []term) float64 {
	var total, sum float64
	for _, t := range terms {
		total += t.weight
		sum += t.weight * t.score
	}
	if total == 0 {
		return 0
	}
	return clamp01(sum / total)
}

func intrusionTolerance(s model.Stakes) float64 {
	switch s {
	case model.StakesLow:
		return 1.0
	case model.StakesHigh:
		return 0.3
	default:
		return 0.7
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
