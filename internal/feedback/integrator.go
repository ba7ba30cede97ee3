// Package feedback integrates raw feedback events into normalized learning
// updates, resolving conflicts across sources under a strict precedence
// order: source tier first, then specificity, then recency-weighted
// consistency.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/index"
	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

// suggestionCategory is the preference category suggestion patterns live in.
// Keeping patterns as implicit preferences makes their decay visible to the
// decision engine's preference-alignment term.
const suggestionCategory = "suggestion"

// Integrator turns feedback events into learning updates and applies them.
type Integrator struct {
	cfg config.Config
	st  *store.Store
	log *zap.Logger
	now func() time.Time
}

// New returns an integrator writing through the given store.
func New(st *store.Store, cfg config.Config, logger *zap.Logger) *Integrator {
	return &Integrator{
		cfg: cfg,
		st:  st,
		log: logger.With(zap.String("component", "integrator")),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// baseConfidence returns the source-tier base confidence. Events never
// adjust their own tier; only configuration changes these.
func (in *Integrator) baseConfidence(src model.Source) float64 {
	switch src {
	case model.SourceExplicit:
		return in.cfg.Learning.ExplicitConfidence
	case model.SourceImplicit:
		return in.cfg.Learning.ImplicitConfidence
	default:
		return in.cfg.Learning.BehavioralConfidence
	}
}

// Integrate resolves one feedback event into learning updates and applies
// each atomically to the store, in order. The returned updates describe
// what was applied; their Rationale lists the contributing factors.
func (in *Integrator) Integrate(ctx context.Context, ev model.FeedbackEvent) ([]model.LearningUpdate, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = in.now()
	}

	var updates []model.LearningUpdate
	var err error
	switch ev.Kind {
	case model.FeedbackCorrection:
		updates, err = in.integrateCorrection(ctx, ev)
	case model.FeedbackRule:
		updates, err = in.integrateRule(ctx, ev)
	case model.FeedbackPreference:
		updates, err = in.integratePreference(ctx, ev)
	case model.FeedbackImplicit:
		updates, err = in.integrateImplicit(ctx, ev)
	case model.FeedbackObservation:
		updates, err = in.integrateObservation(ctx, ev)
	default:
		return nil, &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown feedback kind %q", ev.Kind)}
	}
	if err != nil {
		return nil, err
	}

	for i := range updates {
		if err := in.st.Apply(ctx, updates[i]); err != nil {
			return updates[:i], fmt.Errorf("apply update %d of %d: %w", i+1, len(updates), err)
		}
	}
	in.log.Debug("feedback integrated",
		zap.String("kind", string(ev.Kind)),
		zap.Int("updates", len(updates)))
	return updates, nil
}

func (in *Integrator) newUpdate(target model.Target, op model.Operation, delta, confidence float64, rationale ...string) model.LearningUpdate {
	return model.LearningUpdate{
		ID:                  uuid.NewString(),
		Target:              target,
		Operation:           op,
		Delta:               delta,
		ResultingConfidence: confidence,
		Rationale:           rationale,
		CreatedAt:           in.now(),
	}
}

// integrateCorrection creates or strengthens the corrected behavior as an
// explicit preference, records the correction episodically, and weakens
// every rule or preference that implied the now-corrected behavior.
func (in *Integrator) integrateCorrection(ctx context.Context, ev model.FeedbackEvent) ([]model.LearningUpdate, error) {
	c := ev.Correction
	if c == nil || c.Right == "" {
		return nil, &model.ValidationError{Field: "correction", Reason: "right behavior must not be empty"}
	}
	conf := in.baseConfidence(model.SourceExplicit)

	updates := []model.LearningUpdate{
		in.newUpdate(model.Target{
			Kind:      model.TargetPreference,
			Category:  "behavior",
			Statement: c.Right,
			Source:    model.SourceExplicit,
		}, model.OpCreate, 0, conf,
			"explicit correction establishes the corrected behavior",
			fmt.Sprintf("source tier explicit (%.2f)", conf)),
		in.newUpdate(model.Target{
			Kind:       model.TargetMemory,
			MemoryKind: model.KindEpisodic,
			Content:    fmt.Sprintf("correction: %s (was: %s)", c.Right, c.Wrong),
		}, model.OpCreate, 0, conf, "episodic trace of the correction"),
	}

	// Weaken whatever implied the wrong behavior.
	if c.Wrong != "" {
		for _, r := range in.st.ListRules(ctx) {
			if index.TextSimilarity(c.Wrong, r.Action) >= in.cfg.Learning.SpecificityThreshold {
				updates = append(updates, in.newUpdate(model.Target{
					Kind: model.TargetRule,
					ID:   r.ID,
				}, model.OpWeaken, in.cfg.Learning.CorrectionWeaken, conf,
					fmt.Sprintf("rule %q implied corrected behavior %q", r.Condition, c.Wrong)))
			}
		}
		for _, p := range in.st.ListPreferences(ctx) {
			if p.Category == suggestionCategory {
				continue
			}
			if index.TextSimilarity(c.Wrong, p.Statement) >= in.cfg.Learning.SpecificityThreshold {
				updates = append(updates, in.newUpdate(model.Target{
					Kind: model.TargetPreference,
					ID:   p.ID,
				}, model.OpWeaken, in.cfg.Learning.CorrectionWeaken, conf,
					fmt.Sprintf("preference %q implied corrected behavior %q", p.Statement, c.Wrong)))
			}
		}
	}
	return updates, nil
}

// integrateRule handles an explicitly defined rule. Contradicting explicit
// rules of equal specificity inside the recency epsilon are an unresolvable
// conflict; otherwise the newer explicit signal supersedes.
func (in *Integrator) integrateRule(ctx context.Context, ev model.FeedbackEvent) ([]model.LearningUpdate, error) {
	rd := ev.Rule
	if rd == nil || rd.Condition == "" || rd.Action == "" {
		return nil, &model.ValidationError{Field: "rule", Reason: "condition and action must not be empty"}
	}
	conf := in.baseConfidence(model.SourceExplicit)

	create := in.newUpdate(model.Target{
		Kind:      model.TargetRule,
		Condition: rd.Condition,
		Action:    rd.Action,
		Source:    model.SourceExplicit,
	}, model.OpCreate, 0, conf,
		"explicitly defined rule",
		fmt.Sprintf("source tier explicit (%.2f)", conf))

	contr := in.findContradictingRule(ctx, rd.Condition, rd.Action, ev.OccurredAt)
	if contr == nil {
		return []model.LearningUpdate{create}, nil
	}

	newRefines := refines(rd.Condition, contr.Condition, in.cfg.Learning.SpecificityThreshold)
	oldRefines := refines(contr.Condition, rd.Condition, in.cfg.Learning.SpecificityThreshold)
	switch {
	case newRefines || oldRefines:
		// Different specificity: both stay live, the decision engine picks
		// the closer condition match per stimulus.
		create.Rationale = append(create.Rationale, "specificity differs from contradicting rule, both retained")
		return []model.LearningUpdate{create}, nil
	case ev.OccurredAt.Sub(contr.CreatedAt).Abs() <= in.cfg.Learning.RecencyEpsilon:
		return nil, fmt.Errorf("rule %q vs %q: %w", rd.Condition, contr.Condition, model.ErrConflictUnresolvable)
	default:
		supersede := in.newUpdate(model.Target{
			Kind:      model.TargetRule,
			ID:        contr.ID,
			Condition: rd.Condition,
			Action:    rd.Action,
		}, model.OpSupersede, 0, conf,
			fmt.Sprintf("newer explicit rule supersedes contradicting rule %q", contr.Condition))
		return []model.LearningUpdate{supersede}, nil
	}
}

func (in *Integrator) integratePreference(ctx context.Context, ev model.FeedbackEvent) ([]model.LearningUpdate, error) {
	ps := ev.Preference
	if ps == nil || ps.Text == "" {
		return nil, &model.ValidationError{Field: "preference", Reason: "text must not be empty"}
	}
	strength := ps.Strength
	if strength <= 0 {
		strength = in.baseConfidence(model.SourceExplicit)
	}

	var updates []model.LearningUpdate
	// Explicit always overrides: weaken same-topic preferences from any
	// tier that state something else.
	for _, p := range in.st.ListPreferences(ctx) {
		if p.Category != ps.Category || p.Category == suggestionCategory {
			continue
		}
		if model.NormalizeStatement(p.Statement) == model.NormalizeStatement(ps.Text) {
			continue // same statement, the upsert reinforces it
		}
		sim := index.TextSimilarity(ps.Text, p.Statement)
		if sim < in.cfg.Learning.SpecificityThreshold {
			continue
		}
		if p.Source == model.SourceExplicit &&
			!refines(ps.Text, p.Statement, in.cfg.Learning.SpecificityThreshold) &&
			!refines(p.Statement, ps.Text, in.cfg.Learning.SpecificityThreshold) &&
			ev.OccurredAt.Sub(p.LastConfirmedAt).Abs() <= in.cfg.Learning.RecencyEpsilon {
			return nil, fmt.Errorf("preference %q vs %q: %w", ps.Text, p.Statement, model.ErrConflictUnresolvable)
		}
		updates = append(updates, in.newUpdate(model.Target{
			Kind: model.TargetPreference,
			ID:   p.ID,
		}, model.OpWeaken, in.cfg.Learning.CorrectionWeaken, strength,
			fmt.Sprintf("explicit statement overrides same-topic preference %q (tier %s)", p.Statement, p.Source)))
	}

	updates = append(updates, in.newUpdate(model.Target{
		Kind:      model.TargetPreference,
		Category:  ps.Category,
		Statement: ps.Text,
		Source:    model.SourceExplicit,
	}, model.OpCreate, 0, strength,
		"explicitly stated preference",
		fmt.Sprintf("source tier explicit (%.2f)", in.baseConfidence(model.SourceExplicit))))
	return updates, nil
}

// integrateImplicit adjusts the suggestion pattern a user reacted to.
func (in *Integrator) integrateImplicit(ctx context.Context, ev model.FeedbackEvent) ([]model.LearningUpdate, error) {
	sig := ev.Implicit
	if sig == nil || sig.SuggestionID == "" {
		return nil, &model.ValidationError{Field: "implicit", Reason: "suggestion id must not be empty"}
	}
	base := in.baseConfidence(model.SourceImplicit)

	var updates []model.LearningUpdate
	// ensure resolves the live pattern for a statement, emitting a create at
	// the tier base when none exists yet. Adjustments always apply as deltas
	// on top of whatever strength the pattern has already earned or lost.
	ensure := func(statement string) model.Target {
		if p, err := in.st.FindPreference(ctx, suggestionCategory, statement); err == nil {
			return model.Target{Kind: model.TargetPreference, ID: p.ID}
		}
		updates = append(updates, in.newUpdate(model.Target{
			Kind:      model.TargetPreference,
			Category:  suggestionCategory,
			Statement: statement,
			Source:    model.SourceImplicit,
		}, model.OpCreate, 0, base, "first signal for this suggestion pattern"))
		return model.Target{Kind: model.TargetPreference, Category: suggestionCategory, Statement: statement}
	}

	switch sig.Outcome {
	case model.OutcomeAccepted:
		updates = append(updates, in.newUpdate(ensure(sig.SuggestionID), model.OpReinforce,
			in.cfg.Learning.ReinforceDelta, base,
			"suggestion accepted, pattern reinforced"))
	case model.OutcomeIgnored:
		updates = append(updates, in.newUpdate(ensure(sig.SuggestionID), model.OpWeaken,
			in.cfg.Learning.IgnoredDecrement, base,
			"suggestion ignored, fixed decrement applied"))
	case model.OutcomeModified:
		// Weaken the removed portion, reinforce what was kept.
		removed := sig.RemovedPortion
		if removed == "" {
			removed = sig.SuggestionID
		}
		kept := sig.KeptPortion
		if kept == "" {
			kept = sig.SuggestionID
		}
		updates = append(updates,
			in.newUpdate(ensure(removed), model.OpWeaken,
				in.cfg.Learning.IgnoredDecrement/2, base,
				"modified suggestion, removed portion weakened"),
			in.newUpdate(ensure(kept), model.OpReinforce,
				in.cfg.Learning.ReinforceDelta, base,
				"modified suggestion, retained portion reinforced"))
	default:
		return nil, &model.ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", sig.Outcome)}
	}
	return updates, nil
}

// integrateObservation persists the raw trace and promotes it only once the
// same dimension and value repeat enough times within the window.
func (in *Integrator) integrateObservation(ctx context.Context, ev model.FeedbackEvent) ([]model.LearningUpdate, error) {
	obs := ev.Observation
	if obs == nil || obs.Dimension == "" {
		return nil, &model.ValidationError{Field: "observation", Reason: "dimension must not be empty"}
	}
	window := obs.Window
	if window <= 0 {
		window = in.cfg.Learning.LookbackWindow
	}

	if _, err := in.st.AddObservation(ctx, obs.Dimension, obs.Value, ev.OccurredAt); err != nil {
		return nil, err
	}
	recent, err := in.st.ObservationsSince(ctx, obs.Dimension, ev.OccurredAt.Add(-window))
	if err != nil {
		return nil, err
	}
	consistent := 0
	for _, o := range recent {
		if o.Value == obs.Value {
			consistent++
		}
	}
	if consistent < in.cfg.Learning.MinRepeat {
		in.log.Debug("observation retained as raw signal",
			zap.String("dimension", obs.Dimension),
			zap.Int("consistent", consistent),
			zap.Int("min_repeat", in.cfg.Learning.MinRepeat))
		return nil, nil
	}

	conf := in.baseConfidence(model.SourceBehavioral)
	var updates []model.LearningUpdate
	for _, p := range in.st.ListPreferences(ctx) {
		if p.Category != obs.Dimension {
			continue
		}
		if model.NormalizeStatement(p.Statement) == model.NormalizeStatement(obs.Value) {
			continue
		}
		// A behavioral trend never overrides an explicit preference on the
		// same topic, regardless of streak length or timestamps.
		if p.Source == model.SourceExplicit {
			in.log.Debug("behavioral trend suppressed by explicit preference",
				zap.String("dimension", obs.Dimension),
				zap.String("explicit", p.Statement))
			return nil, nil
		}
		// Against same-tier or implicit signals, a long enough consistent
		// streak overturns the older one; a short run never does.
		if consistent < in.cfg.Learning.StreakLength {
			return nil, nil
		}
		updates = append(updates, in.newUpdate(model.Target{
			Kind: model.TargetPreference,
			ID:   p.ID,
		}, model.OpWeaken, in.cfg.Learning.CorrectionWeaken, conf,
			fmt.Sprintf("streak of %d consistent observations outweighs older signal %q", consistent, p.Statement)))
	}

	updates = append(updates, in.newUpdate(model.Target{
		Kind:      model.TargetPreference,
		Category:  obs.Dimension,
		Statement: obs.Value,
		Source:    model.SourceBehavioral,
	}, model.OpCreate, 0, conf,
		fmt.Sprintf("behavioral trend: %d consistent observations within %s", consistent, window),
		fmt.Sprintf("source tier behavioral (%.2f)", conf)))
	return updates, nil
}

// findContradictingRule returns the most recent rule whose condition covers
// the same topic but whose action disagrees, if it is inside the lookback
// window.
func (in *Integrator) findContradictingRule(ctx context.Context, condition, action string, at time.Time) *model.Rule {
	var found *model.Rule
	for _, r := range in.st.ListRules(ctx) {
		if index.TextSimilarity(condition, r.Condition) < in.cfg.Learning.SpecificityThreshold {
			continue
		}
		if index.TextSimilarity(action, r.Action) >= in.cfg.Learning.SpecificityThreshold {
			continue // same action, not a contradiction
		}
		if at.Sub(r.CreatedAt) > in.cfg.Learning.LookbackWindow {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			rr := r
			found = &rr
		}
	}
	return found
}

// refines reports whether a is a strict refinement of b: same topic at or
// above the specificity threshold, with strictly more qualifying terms.
func refines(a, b string, threshold float64) bool {
	if index.TextSimilarity(a, b) < threshold {
		return false
	}
	return len(index.Tokenize(a)) > len(index.Tokenize(b))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
