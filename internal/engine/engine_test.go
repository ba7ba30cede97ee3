package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/align"
	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/feedback"
	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

type testRig struct {
	store      *store.Store
	engine     *Engine
	integrator *feedback.Integrator
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	return newTestRigWithConfig(t, config.Default())
}

func newTestRigWithConfig(t *testing.T, cfg config.Config) *testRig {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	gate := align.NewGate(cfg.Alignment, st, logger)
	return &testRig{
		store:      st,
		engine:     New(st, gate, cfg, logger),
		integrator: feedback.New(st, cfg, logger),
	}
}

func (r *testRig) mustIntegrate(t *testing.T, ev model.FeedbackEvent) {
	t.Helper()
	_, err := r.integrator.Integrate(context.Background(), ev)
	require.NoError(t, err)
}

func TestEmptyStimulusRejected(t *testing.T) {
	r := newTestRig(t)
	_, err := r.engine.ProcessStimulus(context.Background(), model.Stimulus{})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestMatchedRuleExecutesAutonomously(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	})

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "meeting invite during focus time at 10:00"})
	require.NoError(t, err)
	require.Equal(t, model.ModeAutonomousExecute, d.Mode)
	require.Equal(t, "decline the meeting politely", d.ChosenAction)
	require.Equal(t, model.VerdictAllowed, d.AlignmentVerdict)
	require.GreaterOrEqual(t, d.Confidence, 0.8)

	// The winning rule is cited in the factors.
	require.NotEmpty(t, d.Factors)
	var cited bool
	for _, f := range d.Factors {
		if f.Weight > 0 && containsAll(f.Description, "rule", "morning focus time") {
			cited = true
		}
	}
	require.True(t, cited, "factors: %+v", d.Factors)
}

func TestCorrectionFlipsLaterDecision(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	})

	before, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "meeting invite during focus time at 10:00"})
	require.NoError(t, err)
	require.Equal(t, model.ModeAutonomousExecute, before.Mode)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackCorrection,
		Correction: &model.Correction{
			Wrong: "decline the meeting politely",
			Right: "ask before responding at all",
		},
	})

	after, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "meeting invite during focus time at 10:00"})
	require.NoError(t, err)
	require.NotEqual(t, model.ModeAutonomousExecute, after.Mode)
	require.Less(t, after.Confidence, before.Confidence)
}

func TestIgnoredSuggestionsDropBelowAutonomy(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	})

	// The same suggestion ignored three times decays the pattern enough that
	// the engine downgrades to suggesting instead of acting.
	for i := 0; i < 3; i++ {
		r.mustIntegrate(t, model.FeedbackEvent{
			Kind: model.FeedbackImplicit,
			Implicit: &model.ImplicitSignal{
				SuggestionID: "decline the meeting politely",
				Outcome:      model.OutcomeIgnored,
			},
		})
	}

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "meeting invite during focus time at 10:00"})
	require.NoError(t, err)
	require.Equal(t, model.ModeSuggest, d.Mode)
	require.Less(t, d.Confidence, 0.8)
}

func TestBlockedActionAsksForClarification(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "release ready on friday afternoon",
			Action:    "never ship releases on friday",
		},
	})

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "release ready on friday afternoon"})
	require.NoError(t, err)
	require.Equal(t, model.VerdictBlocked, d.AlignmentVerdict)
	require.Equal(t, model.ModeAskClarification, d.Mode)
	require.Empty(t, d.ChosenAction)
}

func TestHighStakesNeverAutonomous(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	})

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{
		Text:   "meeting invite during focus time at 10:00",
		Stakes: model.StakesHigh,
	})
	require.NoError(t, err)
	require.Equal(t, model.VerdictNeedsConfirmation, d.AlignmentVerdict)
	require.NotEqual(t, model.ModeAutonomousExecute, d.Mode)
	// The confirmation verdict caps a confident candidate at suggesting.
	require.Equal(t, model.ModeSuggest, d.Mode)
}

func TestLowConfidenceConfirmationAsksInsteadOfSuggesting(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	// Raise the suggestion bar above what a lone rule match at high stakes
	// scores. The gate caps the mode, it never raises it: a candidate the
	// gate wants confirmed still needs mid-threshold confidence to surface.
	cfg.Decision.MidThreshold = 0.79
	r := newTestRigWithConfig(t, cfg)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	})

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{
		Text:   "meeting invite during focus time at 10:00",
		Stakes: model.StakesHigh,
	})
	require.NoError(t, err)
	require.Equal(t, model.VerdictNeedsConfirmation, d.AlignmentVerdict)
	require.Equal(t, model.ModeAskClarification, d.Mode)
}

func TestContradictingHistoryLowersConfidence(t *testing.T) {
	ctx := context.Background()

	rule := model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	}
	past := model.Decision{
		ID:               "d-past",
		StimulusID:       "s-past",
		StimulusText:     "meeting invite during focus time yesterday",
		Mode:             model.ModeAutonomousExecute,
		Confidence:       0.85,
		AlignmentVerdict: model.VerdictAllowed,
		DecidedAt:        time.Now().UTC().Add(-time.Hour),
	}

	agreeing := newTestRig(t)
	agreeing.mustIntegrate(t, rule)
	agreed := past
	agreed.ChosenAction = "decline the meeting politely"
	require.NoError(t, agreeing.store.RecordDecision(ctx, agreed))

	contradicting := newTestRig(t)
	contradicting.mustIntegrate(t, rule)
	opposed := past
	opposed.ChosenAction = "accept it and reschedule the deep work block"
	require.NoError(t, contradicting.store.RecordDecision(ctx, opposed))

	stimulus := model.Stimulus{Text: "meeting invite during focus time at 10:00"}
	withAgreement, err := agreeing.engine.ProcessStimulus(ctx, stimulus)
	require.NoError(t, err)
	withContradiction, err := contradicting.engine.ProcessStimulus(ctx, stimulus)
	require.NoError(t, err)

	// A past decision that resolved the same way supports acting; one that
	// resolved differently pulls the engine back to suggesting.
	require.Less(t, withContradiction.Confidence, withAgreement.Confidence)
	require.Equal(t, model.ModeAutonomousExecute, withAgreement.Mode)
	require.Equal(t, model.ModeSuggest, withContradiction.Mode)
}

func TestPreferenceAlignmentAggregatesMatches(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	r.mustIntegrate(t, model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{
			Condition: "meeting invite during morning focus time",
			Action:    "decline the meeting politely",
		},
	})

	// One strong explicit preference for the action and one decayed
	// suggestion pattern against it. Both count; the strong one alone must
	// not push the engine into acting.
	_, err := r.store.UpsertPreference(ctx, "behavior", "decline the meeting politely", 0.9, model.SourceExplicit)
	require.NoError(t, err)
	_, err = r.store.UpsertPreference(ctx, "suggestion", "decline the meeting politely", 0.1, model.SourceImplicit)
	require.NoError(t, err)

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "meeting invite during focus time at 10:00"})
	require.NoError(t, err)
	require.Equal(t, model.ModeSuggest, d.Mode)
	require.Less(t, d.Confidence, 0.8)
}

func TestNovelStimulusLearnsSilently(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	d, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "zebra sightings spiked on the balcony"})
	require.NoError(t, err)
	require.Equal(t, model.ModeSilentLearn, d.Mode)
	require.Empty(t, d.ChosenAction)

	// The stimulus is retained as a raw observation for trend detection.
	obs, err := r.store.ObservationsSince(ctx, "stimulus", d.DecidedAt.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, obs, 1)
}

func TestDecisionsAccumulateAsHistory(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	_, err := r.engine.ProcessStimulus(ctx, model.Stimulus{Text: "quarterly report draft needs review"})
	require.NoError(t, err)

	similar, err := r.store.SimilarDecisions(ctx, "review the quarterly report", 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
