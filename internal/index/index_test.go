package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddRemoveRestoresEmptyState(t *testing.T) {
	ix := New()
	now := time.Now()

	ix.Add("a", "reply to emails in the morning", now)
	ix.Add("b", "decline meetings on friday", now)
	require.Equal(t, 2, ix.Len())
	require.Greater(t, ix.VocabularySize(), 0)

	ix.Remove("a")
	ix.Remove("b")
	require.Equal(t, 0, ix.Len())
	require.Equal(t, 0, ix.VocabularySize())
	require.Nil(t, ix.Query("emails", 10))
}

func TestRebuildEquivalence(t *testing.T) {
	now := time.Now()
	docs := map[string]string{
		"a": "schedule deep work in the morning",
		"b": "decline meeting invites during focus time",
		"c": "batch email replies after lunch",
	}

	// Incremental: extra documents added and removed along the way.
	inc := New()
	inc.Add("x", "temporary noise document", now)
	for id, text := range docs {
		inc.Add(id, text, now)
	}
	inc.Add("y", "more noise about meetings", now)
	inc.Remove("x")
	inc.Remove("y")

	fresh := New()
	for id, text := range docs {
		fresh.Add(id, text, now)
	}

	require.Equal(t, fresh.VocabularySize(), inc.VocabularySize())
	for _, q := range []string{"morning deep work", "meeting focus", "email replies", "lunch"} {
		want := fresh.Query(q, 10)
		got := inc.Query(q, 10)
		require.Len(t, got, len(want), "query %q", q)
		for i := range want {
			require.Equal(t, want[i].ID, got[i].ID, "query %q rank %d", q, i)
			require.InDelta(t, want[i].Score, got[i].Score, 1e-12, "query %q rank %d", q, i)
		}
	}
}

func TestQueryOrderingAndBounds(t *testing.T) {
	ix := New()
	now := time.Now()
	ix.Add("a", "morning focus block no meetings", now)
	ix.Add("b", "morning standup meeting", now)
	ix.Add("c", "afternoon code review", now)

	results := ix.Query("morning focus meetings", 2)
	require.LessOrEqual(t, len(results), 2)
	for i, m := range results {
		require.GreaterOrEqual(t, m.Score, 0.0)
		require.LessOrEqual(t, m.Score, 1.0+1e-9)
		if i > 0 {
			require.LessOrEqual(t, m.Score, results[i-1].Score)
		}
	}
}

func TestExactMatchRanksFirst(t *testing.T) {
	ix := New()
	now := time.Now()
	ix.Add("exact", "decline meetings during focus time", now)
	ix.Add("partial", "decline calls", now)
	ix.Add("other", "water the plants", now)

	results := ix.Query("decline meetings during focus time", 3)
	require.NotEmpty(t, results)
	require.Equal(t, "exact", results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestTieBreaksTowardRecentAccess(t *testing.T) {
	ix := New()
	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	ix.Add("old", "review pull requests", old)
	ix.Add("new", "review pull requests", recent)

	results := ix.Query("review pull requests", 2)
	require.Len(t, results, 2)
	require.Equal(t, "new", results[0].ID)

	ix.Touch("old", recent.Add(time.Minute))
	results = ix.Query("review pull requests", 2)
	require.Equal(t, "old", results[0].ID)
}

func TestEmptyQueryVectorScoresNothing(t *testing.T) {
	ix := New()
	ix.Add("a", "plan the week", time.Now())
	require.Nil(t, ix.Query("", 5))
	require.Nil(t, ix.Query("the of and", 5)) // stop words only
	require.Nil(t, ix.Query("zzzunknown", 5))
}

func TestTextSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, TextSimilarity("decline meetings", "decline meetings"), 1e-9)
	require.Equal(t, 0.0, TextSimilarity("decline meetings", "water plants"))
	require.Equal(t, 0.0, TextSimilarity("", "anything"))

	partial := TextSimilarity("decline friday meetings", "decline meetings")
	require.Greater(t, partial, 0.0)
	require.Less(t, partial, 1.0)
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Meeting at 10:00 in the War-Room!")
	require.Equal(t, []string{"meeting", "10", "00", "war", "room"}, tokens)
	require.Empty(t, Tokenize("a I to"))
}
