package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), config.Default(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "user prefers short replies", ImportanceHint: 0.4})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.Equal(t, 0, e.AccessCount)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, e.Content, got.Content)

	_, err = s.Get(ctx, "missing")
	require.True(t, model.IsNotFound(err))
}

func TestStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: ""})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = s.Store(ctx, StoreParams{Kind: "mystery", Content: "x"})
	require.ErrorAs(t, err, &verr)

	_, err = s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "x", ImportanceHint: 1.5})
	require.ErrorAs(t, err, &verr)
}

func TestRecallTracksAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "decline meetings during focus time", ImportanceHint: 0.5})
	require.NoError(t, err)
	_, err = s.Store(ctx, StoreParams{Kind: model.KindEpisodic, Content: "watered the office plants", ImportanceHint: 0.2})
	require.NoError(t, err)

	results, err := s.Recall(ctx, RecallParams{Query: "focus time meetings", K: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, e.ID, results[0].Entry.ID)
	require.Greater(t, results[0].Score, 0.0)
	require.Equal(t, 1, results[0].Entry.AccessCount)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.AccessCount)
}

func TestRecallKindFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "weekly report every friday", ImportanceHint: 0.5})
	s.Store(ctx, StoreParams{Kind: model.KindProcedural, Content: "friday report checklist", ImportanceHint: 0.5})

	results, err := s.Recall(ctx, RecallParams{Query: "friday report", K: 5, Kind: model.KindProcedural})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.KindProcedural, results[0].Entry.Kind)
}

func TestRecallSurvivesIndexRebuild(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range []string{
		"schedule deep work in the morning",
		"decline meeting invites during focus time",
		"batch email replies after lunch",
	} {
		_, err := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: c, ImportanceHint: 0.5})
		require.NoError(t, err)
	}

	before, err := s.Recall(ctx, RecallParams{Query: "morning deep work", K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, before)

	s.RebuildIndex()

	after, err := s.Recall(ctx, RecallParams{Query: "morning deep work", K: 3})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		require.Equal(t, before[i].Entry.ID, after[i].Entry.ID)
		require.InDelta(t, before[i].Score, after[i].Score, 1e-12)
	}
}

func TestImportanceClampsUnderExtremeDeltas(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, _ := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "clamp target", ImportanceHint: 0.5})

	require.NoError(t, s.Reinforce(ctx, e.ID, 5))
	got, _ := s.Get(ctx, e.ID)
	require.Equal(t, 1.0, got.Importance)
	require.NotNil(t, got.LastReinforcedAt)

	require.NoError(t, s.Decay(ctx, e.ID, 5))
	got, _ = s.Get(ctx, e.ID)
	require.Equal(t, 0.0, got.Importance)
}

func TestProtectedEntriesAreNotEvictable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	low, _ := s.Store(ctx, StoreParams{Kind: model.KindEpisodic, Content: "low importance trivia", ImportanceHint: 0.05})
	shielded, _ := s.Store(ctx, StoreParams{Kind: model.KindEpisodic, Content: "protected trivia", ImportanceHint: 0.05})
	require.NoError(t, s.Protect(ctx, shielded.ID))

	candidates := s.EvictCandidates(ctx, 0.1)
	require.Len(t, candidates, 1)
	require.Equal(t, low.ID, candidates[0].ID)

	err := s.Evict(ctx, shielded.ID)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, s.Evict(ctx, low.ID))
	_, err = s.Get(ctx, low.ID)
	require.True(t, model.IsNotFound(err))
}

func TestAddRuleMergesNearDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r1, merged, err := s.AddRule(ctx, "email from boss arrives", "reply within the hour")
	require.NoError(t, err)
	require.False(t, merged)

	r2, merged, err := s.AddRule(ctx, "email from boss arrives", "reply immediately")
	require.NoError(t, err)
	require.True(t, merged)
	require.Equal(t, r1.ID, r2.ID)
	require.Equal(t, "reply immediately", r2.Action)
	require.Len(t, s.ListRules(ctx), 1)
}

func TestUpsertPreferenceSourceOnlyUpgrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.UpsertPreference(ctx, "tone", "keep replies short", 0.35, model.SourceBehavioral)
	require.NoError(t, err)

	p2, err := s.UpsertPreference(ctx, "tone", "Keep  Replies  Short", 0.9, model.SourceExplicit)
	require.NoError(t, err)
	require.Equal(t, p.ID, p2.ID, "normalized statements must not duplicate")
	require.Equal(t, model.SourceExplicit, p2.Source)

	p3, err := s.UpsertPreference(ctx, "tone", "keep replies short", 0.4, model.SourceBehavioral)
	require.NoError(t, err)
	require.Equal(t, model.SourceExplicit, p3.Source, "behavioral echo must not downgrade source")
}

func TestApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// A failing update leaves no partial state.
	err := s.Apply(ctx, model.LearningUpdate{
		ID:        "u1",
		Target:    model.Target{Kind: model.TargetRule, ID: "missing"},
		Operation: model.OpWeaken,
		Delta:     0.1,
	})
	require.True(t, model.IsNotFound(err))
	require.Empty(t, s.ListRules(ctx))

	// Create then adjust by (category, statement) without knowing the id.
	require.NoError(t, s.Apply(ctx, model.LearningUpdate{
		ID: "u2",
		Target: model.Target{
			Kind: model.TargetPreference, Category: "suggestion",
			Statement: "block mornings for deep work", Source: model.SourceImplicit,
		},
		Operation:           model.OpCreate,
		ResultingConfidence: 0.6,
	}))
	require.NoError(t, s.Apply(ctx, model.LearningUpdate{
		ID: "u3",
		Target: model.Target{
			Kind: model.TargetPreference, Category: "suggestion",
			Statement: "block mornings for deep work",
		},
		Operation: model.OpWeaken,
		Delta:     0.15,
	}))

	p, err := s.FindPreference(ctx, "suggestion", "block mornings for deep work")
	require.NoError(t, err)
	require.InDelta(t, 0.45, p.Strength, 1e-9)
}

func TestDecisionHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := model.Decision{
		ID:               "d1",
		StimulusID:       "s1",
		StimulusText:     "meeting invite during focus time",
		Mode:             model.ModeSuggest,
		Confidence:       0.7,
		ChosenAction:     "decline the meeting",
		AlignmentVerdict: model.VerdictAllowed,
		DecidedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.RecordDecision(ctx, d))

	similar, err := s.SimilarDecisions(ctx, "another meeting during focus time", 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	require.Equal(t, "d1", similar[0].Decision.ID)
	require.Greater(t, similar[0].Score, 0.0)

	// The stimulus is also retrievable as an episodic memory.
	results, err := s.Recall(ctx, RecallParams{Query: "meeting focus time", K: 5, Kind: model.KindEpisodic})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSimilarDecisionsRecoversFromIndexDrift(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordDecision(ctx, model.Decision{
		ID:               "d1",
		StimulusID:       "s1",
		StimulusText:     "quarterly report draft needs review",
		Mode:             model.ModeSuggest,
		Confidence:       0.6,
		AlignmentVerdict: model.VerdictAllowed,
		DecidedAt:        time.Now().UTC(),
	}))

	// An index entry with no backing row in the decision log.
	s.mu.Lock()
	s.dix.Add("ghost", "quarterly report draft needs review", time.Now().UTC())
	s.mu.Unlock()

	similar, err := s.SimilarDecisions(ctx, "review the quarterly report draft", 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	require.Equal(t, "d1", similar[0].Decision.ID)
}

func TestDecaySweepProtectsCriticalEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	critical, _ := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "deadline is march 1", ImportanceHint: 0.85})
	plain, _ := s.Store(ctx, StoreParams{Kind: model.KindEpisodic, Content: "ate lunch at noon", ImportanceHint: 0.5})

	future := time.Now().UTC().Add(72 * time.Hour)
	stats, err := s.DecaySweep(ctx, future, func(e model.MemoryEntry, now time.Time) float64 {
		if e.ID == critical.ID {
			return 0
		}
		return 0.2
	})
	require.NoError(t, err)

	require.Len(t, stats.Protected, 1)
	require.Equal(t, critical.ID, stats.Protected[0].ID)

	got, _ := s.Get(ctx, plain.ID)
	require.InDelta(t, 0.3, got.Importance, 1e-9)

	// Protected entries are untouched by later sweeps.
	_, err = s.DecaySweep(ctx, future.Add(time.Hour), func(model.MemoryEntry, time.Time) float64 { return 0.5 })
	require.NoError(t, err)
	got, _ = s.Get(ctx, critical.ID)
	require.True(t, got.Protected)
	require.InDelta(t, 0.85, got.Importance, 1e-9)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := config.Default()

	s, err := Open(path, cfg, zap.NewNop())
	require.NoError(t, err)
	e, err := s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "persisted across restarts", ImportanceHint: 0.5})
	require.NoError(t, err)
	_, _, err = s.AddRule(ctx, "it is friday", "send the weekly summary")
	require.NoError(t, err)
	_, err = s.UpsertPreference(ctx, "tone", "keep replies short", 0.9, model.SourceExplicit)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path, cfg, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "persisted across restarts", got.Content)
	require.Len(t, s2.ListRules(ctx), 1)
	require.Len(t, s2.ListPreferences(ctx), 1)

	results, err := s2.Recall(ctx, RecallParams{Query: "persisted restarts", K: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Store(ctx, StoreParams{Kind: model.KindSemantic, Content: "one", ImportanceHint: 0.5})
	s.Store(ctx, StoreParams{Kind: model.KindEpisodic, Content: "two", ImportanceHint: 0.5})
	s.AddRule(ctx, "condition", "action")

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.Memories)
	require.Equal(t, 1, st.ByKind[model.KindSemantic])
	require.Equal(t, 1, st.Rules)
	require.Greater(t, st.VocabularyTerms, 0)
}
