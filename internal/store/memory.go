package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/model"
)

// StoreParams holds parameters for creating a memory entry.
type StoreParams struct {
	Kind           model.Kind
	Content        string
	ImportanceHint float64
}

// RecallParams holds parameters for similarity recall.
type RecallParams struct {
	Query string
	K     int
	Kind  model.Kind // empty means all kinds
}

// RecallResult pairs a recalled entry with its similarity score.
type RecallResult struct {
	Entry model.MemoryEntry `json:"entry"`
	Score float64           `json:"score"`
}

// Store creates and indexes a memory entry.
func (s *Store) Store(ctx context.Context, p StoreParams) (*model.MemoryEntry, error) {
	if p.Content == "" {
		return nil, &model.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !model.ValidKinds[p.Kind] {
		return nil, &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
	}
	if p.ImportanceHint < 0 || p.ImportanceHint > 1 {
		return nil, &model.ValidationError{Field: "importance", Reason: "must be in [0,1]"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	e := &model.MemoryEntry{
		ID:             s.newID(),
		Kind:           p.Kind,
		Content:        p.Content,
		Importance:     p.ImportanceHint,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, kind, content, importance, created_at, last_accessed_at, access_count, protected)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		e.ID, e.Kind, e.Content, e.Importance, fmtTime(e.CreatedAt), fmtTime(e.LastAccessedAt))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	s.entries[e.ID] = e
	s.idx.Add(e.ID, e.Content, e.LastAccessedAt)

	cp := *e
	return &cp, nil
}

// Get returns a memory entry by id without touching access tracking.
func (s *Store) Get(ctx context.Context, id string) (*model.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "memory", ID: id}
	}
	cp := *e
	return &cp, nil
}

// Recall returns up to K entries most similar to the query, restricted to
// Kind when set, with access tracking updated on every returned entry.
//
// If the index has diverged from the store the read rebuilds the index from
// store content and retries once.
func (s *Store) Recall(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	if p.K <= 0 {
		p.K = s.cfg.Retrieval.TopK
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := s.recallLocked(ctx, p)
	if errors.Is(err, model.ErrIndexInconsistency) {
		s.log.Warn("index inconsistent, rebuilding", zap.String("query", p.Query))
		s.rebuildIndexesLocked()
		results, err = s.recallLocked(ctx, p)
	}
	return results, err
}

func (s *Store) recallLocked(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	if s.idx.Len() != len(s.entries) {
		return nil, model.ErrIndexInconsistency
	}

	matches := s.idx.Query(p.Query, s.idx.Len())
	var results []RecallResult
	for _, m := range matches {
		e, ok := s.entries[m.ID]
		if !ok {
			return nil, model.ErrIndexInconsistency
		}
		if p.Kind != "" && e.Kind != p.Kind {
			continue
		}
		results = append(results, RecallResult{Entry: *e, Score: m.Score})
		if len(results) == p.K {
			break
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for i := range results {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
			fmtTime(now), results[i].Entry.ID); err != nil {
			return nil, fmt.Errorf("update access: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range results {
		e := s.entries[results[i].Entry.ID]
		e.AccessCount++
		e.LastAccessedAt = now
		s.idx.Touch(e.ID, now)
		results[i].Entry = *e
	}
	return results, nil
}

// Reinforce raises an entry's importance by delta, clamped into [0,1].
func (s *Store) Reinforce(ctx context.Context, id string, delta float64) error {
	return s.adjustImportance(ctx, id, delta, true)
}

// Decay lowers an entry's importance by delta, clamped into [0,1].
func (s *Store) Decay(ctx context.Context, id string, delta float64) error {
	return s.adjustImportance(ctx, id, -delta, false)
}

func (s *Store) adjustImportance(ctx context.Context, id string, delta float64, reinforced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return &model.NotFoundError{Kind: "memory", ID: id}
	}
	next := clamp01(e.Importance + delta)
	now := time.Now().UTC()

	var err error
	if reinforced {
		_, err = s.db.ExecContext(ctx,
			`UPDATE memories SET importance = ?, last_reinforced_at = ? WHERE id = ?`,
			next, fmtTime(now), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE memories SET importance = ? WHERE id = ?`, next, id)
	}
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	e.Importance = next
	if reinforced {
		e.LastReinforcedAt = &now
	}
	return nil
}

// Protect marks an entry immune to eviction and scheduler decay.
func (s *Store) Protect(ctx context.Context, id string) error {
	return s.setProtected(ctx, id, true)
}

// Unprotect clears the forgetting-immunity flag.
func (s *Store) Unprotect(ctx context.Context, id string) error {
	return s.setProtected(ctx, id, false)
}

func (s *Store) setProtected(ctx context.Context, id string, protected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return &model.NotFoundError{Kind: "memory", ID: id}
	}
	flag := 0
	if protected {
		flag = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET protected = ? WHERE id = ?`, flag, id); err != nil {
		return fmt.Errorf("update protected: %w", err)
	}
	e.Protected = protected
	return nil
}

// EvictCandidates returns unprotected entries with importance below floor,
// least important and least recently accessed first. Deletion is a separate
// Evict call so callers can audit before removing.
func (s *Store) EvictCandidates(ctx context.Context, floor float64) []model.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MemoryEntry
	for _, e := range s.entries {
		if !e.Protected && e.Importance < floor {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance < out[j].Importance
		}
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	return out
}

// Evict hard-deletes an unprotected entry and retracts it from the index.
func (s *Store) Evict(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return &model.NotFoundError{Kind: "memory", ID: id}
	}
	if e.Protected {
		return &model.ValidationError{Field: "protected", Reason: "cannot evict a protected entry"}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM rehearsals WHERE memory_id = ?`, id); err != nil {
		return fmt.Errorf("delete rehearsal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	delete(s.entries, id)
	s.idx.Remove(id)
	return nil
}

// ListMemories returns a snapshot of all entries.
func (s *Store) ListMemories(ctx context.Context) []model.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MemoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SweepStats summarizes one decay sweep.
type SweepStats struct {
	Decayed   int
	Protected []model.MemoryEntry
}

// DecaySweep applies decayFn to every unprotected entry in one exclusive
// section and one transaction, then auto-protects entries whose importance
// sits at or above the critical threshold. The scheduler is the only caller.
func (s *Store) DecaySweep(ctx context.Context, now time.Time, decayFn func(model.MemoryEntry, time.Time) float64) (SweepStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SweepStats
	type change struct {
		id         string
		importance float64
		protect    bool
	}
	var changes []change
	for _, e := range s.entries {
		next := e.Importance
		decayed := false
		if !e.Protected {
			if delta := decayFn(*e, now); delta > 0 {
				next = clamp01(e.Importance - delta)
				decayed = next != e.Importance
			}
		}
		protect := !e.Protected && next >= s.cfg.Scheduler.CriticalThreshold
		if decayed || protect {
			changes = append(changes, change{id: e.ID, importance: next, protect: protect})
		}
	}
	if len(changes) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()
	for _, c := range changes {
		flag := 0
		if c.protect || s.entries[c.id].Protected {
			flag = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET importance = ?, protected = ? WHERE id = ?`,
			c.importance, flag, c.id); err != nil {
			return stats, fmt.Errorf("sweep update: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return stats, err
	}

	for _, c := range changes {
		e := s.entries[c.id]
		if c.importance != e.Importance {
			stats.Decayed++
			e.Importance = c.importance
		}
		if c.protect {
			e.Protected = true
			stats.Protected = append(stats.Protected, *e)
		}
	}
	sort.Slice(stats.Protected, func(i, j int) bool {
		return stats.Protected[i].ID < stats.Protected[j].ID
	})
	return stats, nil
}
