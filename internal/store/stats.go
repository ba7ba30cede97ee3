package store

import (
	"context"
	"os"

	"github.com/daz2208/adaptive-memory/internal/model"
)

// Stats holds store statistics.
type Stats struct {
	DBPath          string             `json:"db_path"`
	DBSizeBytes     int64              `json:"db_size_bytes"`
	Memories        int                `json:"memories"`
	ByKind          map[model.Kind]int `json:"by_kind"`
	Protected       int                `json:"protected"`
	Preferences     int                `json:"preferences"`
	Rules           int                `json:"rules"`
	Decisions       int                `json:"decisions"`
	Observations    int                `json:"observations"`
	VocabularyTerms int                `json:"vocabulary_terms"`
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{
		DBPath:          s.db.path,
		Memories:        len(s.entries),
		ByKind:          make(map[model.Kind]int),
		Preferences:     len(s.prefs),
		Rules:           len(s.rules),
		VocabularyTerms: s.idx.VocabularySize(),
	}
	for _, e := range s.entries {
		st.ByKind[e.Kind]++
		if e.Protected {
			st.Protected++
		}
	}
	if info, err := os.Stat(s.db.path); err == nil {
		st.DBSizeBytes = info.Size()
	}
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&st.Decisions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&st.Observations)
	return st, nil
}
