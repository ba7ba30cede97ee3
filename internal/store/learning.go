package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/index"
	"github.com/daz2208/adaptive-memory/internal/model"
)

// AddRule creates a rule, or merges into an existing rule whose condition is
// a near-duplicate (similarity at or above the merge threshold). Merging
// replaces the action and strengthens the rule instead of stacking a copy.
func (s *Store) AddRule(ctx context.Context, condition, action string) (*model.Rule, bool, error) {
	if condition == "" {
		return nil, false, &model.ValidationError{Field: "condition", Reason: "must not be empty"}
	}
	if action == "" {
		return nil, false, &model.ValidationError{Field: "action", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, merged, commit, err := s.addRuleLocked(ctx, s.db.DB, condition, action, 1.0)
	if err != nil {
		return nil, false, err
	}
	commit()
	cp := *r
	return &cp, merged, nil
}

// execer lets rule/preference writes run against the raw handle or inside a
// learning-update transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// addRuleLocked performs the merge-or-create against ex. The cache is only
// mutated by the returned commit closure, so Apply can defer it until its
// transaction commits.
func (s *Store) addRuleLocked(ctx context.Context, ex execer, condition, action string, strength float64) (*model.Rule, bool, func(), error) {
	if best, sim := s.bestRuleMatch(condition); best != nil && sim >= s.cfg.Learning.RuleMergeThreshold {
		next := clamp01(best.Strength + s.cfg.Learning.ReinforceDelta)
		if _, err := ex.ExecContext(ctx,
			`UPDATE rules SET action = ?, strength = ? WHERE id = ?`,
			action, next, best.ID); err != nil {
			return nil, false, nil, fmt.Errorf("merge rule: %w", err)
		}
		commit := func() {
			best.Action = action
			best.Strength = next
			s.log.Debug("rule merged", zap.String("id", best.ID), zap.String("condition", best.Condition))
		}
		return best, true, commit, nil
	}

	r := &model.Rule{
		ID:        s.newID(),
		Condition: condition,
		Action:    action,
		Strength:  clamp01(strength),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := ex.ExecContext(ctx,
		`INSERT INTO rules (id, condition, action, strength, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Condition, r.Action, r.Strength, fmtTime(r.CreatedAt)); err != nil {
		return nil, false, nil, fmt.Errorf("insert rule: %w", err)
	}
	return r, false, func() { s.rules[r.ID] = r }, nil
}

func (s *Store) bestRuleMatch(condition string) (*model.Rule, float64) {
	var best *model.Rule
	bestSim := 0.0
	for _, r := range s.rules {
		sim := index.TextSimilarity(condition, r.Condition)
		if sim > bestSim || (sim == bestSim && sim > 0 && best != nil && r.ID < best.ID) {
			best, bestSim = r, sim
		}
	}
	return best, bestSim
}

// ListRules returns a snapshot of all rules, newest first.
func (s *Store) ListRules(ctx context.Context) []model.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertPreference writes a preference, updating strength and source in
// place when a live preference already exists for the same category and
// normalized statement.
func (s *Store) UpsertPreference(ctx context.Context, category, statement string, strength float64, source model.Source) (*model.Preference, error) {
	if statement == "" {
		return nil, &model.ValidationError{Field: "statement", Reason: "must not be empty"}
	}
	if strength < 0 || strength > 1 {
		return nil, &model.ValidationError{Field: "strength", Reason: "must be in [0,1]"}
	}
	if !model.ValidSources[source] {
		return nil, &model.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, commit, err := s.upsertPreferenceLocked(ctx, s.db.DB, category, statement, strength, source)
	if err != nil {
		return nil, err
	}
	commit()
	cp := *p
	return &cp, nil
}

func (s *Store) upsertPreferenceLocked(ctx context.Context, ex execer, category, statement string, strength float64, source model.Source) (*model.Preference, func(), error) {
	now := time.Now().UTC()
	norm := model.NormalizeStatement(statement)

	if existing := s.findPreferenceLocked(category, norm); existing != nil {
		// Later writes update rather than duplicate. Source only upgrades;
		// a behavioral echo of an explicit preference stays explicit.
		src := existing.Source
		if source.Rank() > src.Rank() {
			src = source
		}
		if _, err := ex.ExecContext(ctx,
			`UPDATE preferences SET strength = ?, source = ?, last_confirmed_at = ? WHERE id = ?`,
			strength, src, fmtTime(now), existing.ID); err != nil {
			return nil, nil, fmt.Errorf("update preference: %w", err)
		}
		commit := func() {
			existing.Strength = strength
			existing.Source = src
			existing.LastConfirmedAt = now
		}
		return existing, commit, nil
	}

	p := &model.Preference{
		ID:              s.newID(),
		Category:        category,
		Statement:       statement,
		Strength:        strength,
		Source:          source,
		CreatedAt:       now,
		LastConfirmedAt: now,
	}
	if _, err := ex.ExecContext(ctx,
		`INSERT INTO preferences (id, category, statement, normalized, strength, source, created_at, last_confirmed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Category, p.Statement, norm, p.Strength, p.Source,
		fmtTime(p.CreatedAt), fmtTime(p.LastConfirmedAt)); err != nil {
		return nil, nil, fmt.Errorf("insert preference: %w", err)
	}
	return p, func() { s.prefs[p.ID] = p }, nil
}

// resolvePreference finds an update's target preference by id, or by
// (category, statement) when the id is not known to the producer, e.g. when
// a create earlier in the same batch introduced the preference.
func (s *Store) resolvePreference(t model.Target) *model.Preference {
	if t.ID != "" {
		return s.prefs[t.ID]
	}
	return s.findPreferenceLocked(t.Category, model.NormalizeStatement(t.Statement))
}

func (s *Store) findPreferenceLocked(category, normalized string) *model.Preference {
	for _, p := range s.prefs {
		if p.Category == category && model.NormalizeStatement(p.Statement) == normalized {
			return p
		}
	}
	return nil
}

// FindPreference looks up the live preference for (category, statement).
func (s *Store) FindPreference(ctx context.Context, category, statement string) (*model.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.findPreferenceLocked(category, model.NormalizeStatement(statement))
	if p == nil {
		return nil, &model.NotFoundError{Kind: "preference", ID: category + "/" + statement}
	}
	cp := *p
	return &cp, nil
}

// ListPreferences returns a snapshot of all preferences, newest first.
func (s *Store) ListPreferences(ctx context.Context) []model.Preference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Preference, 0, len(s.prefs))
	for _, p := range s.prefs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply executes a learning update atomically: one exclusive section, one
// transaction. On failure neither the tables, the caches nor the index
// change. This is the only write path the feedback integrator uses.
func (s *Store) Apply(ctx context.Context, u model.LearningUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// after collects cache/index mutations that run only once the
	// transaction commits.
	var after []func()

	switch u.Target.Kind {
	case model.TargetPreference:
		err = s.applyPreference(ctx, tx, u, &after)
	case model.TargetRule:
		err = s.applyRule(ctx, tx, u, &after)
	case model.TargetMemory:
		err = s.applyMemory(ctx, tx, u, &after)
	default:
		err = &model.ValidationError{Field: "target", Reason: fmt.Sprintf("unknown target kind %q", u.Target.Kind)}
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, fn := range after {
		fn()
	}
	s.log.Debug("learning update applied",
		zap.String("operation", string(u.Operation)),
		zap.String("target", string(u.Target.Kind)),
		zap.Float64("confidence", u.ResultingConfidence))
	return nil
}

func (s *Store) applyPreference(ctx context.Context, tx *sql.Tx, u model.LearningUpdate, after *[]func()) error {
	now := time.Now().UTC()
	switch u.Operation {
	case model.OpCreate:
		_, commit, err := s.upsertPreferenceLocked(ctx, tx, u.Target.Category, u.Target.Statement, u.ResultingConfidence, u.Target.Source)
		if err != nil {
			return err
		}
		*after = append(*after, commit)
		return nil
	case model.OpSupersede:
		p, ok := s.prefs[u.Target.ID]
		if !ok {
			return &model.NotFoundError{Kind: "preference", ID: u.Target.ID}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE preferences SET statement = ?, normalized = ?, strength = ?, source = ?, last_confirmed_at = ? WHERE id = ?`,
			u.Target.Statement, model.NormalizeStatement(u.Target.Statement),
			u.ResultingConfidence, u.Target.Source, fmtTime(now), p.ID); err != nil {
			return fmt.Errorf("supersede preference: %w", err)
		}
		*after = append(*after, func() {
			p.Statement = u.Target.Statement
			p.Strength = u.ResultingConfidence
			p.Source = u.Target.Source
			p.LastConfirmedAt = now
		})
		return nil
	case model.OpReinforce, model.OpWeaken:
		p := s.resolvePreference(u.Target)
		if p == nil {
			return &model.NotFoundError{Kind: "preference", ID: u.Target.ID}
		}
		delta := u.Delta
		if u.Operation == model.OpWeaken {
			delta = -delta
		}
		next := clamp01(p.Strength + delta)
		if _, err := tx.ExecContext(ctx,
			`UPDATE preferences SET strength = ?, last_confirmed_at = ? WHERE id = ?`,
			next, fmtTime(now), p.ID); err != nil {
			return fmt.Errorf("adjust preference: %w", err)
		}
		*after = append(*after, func() {
			p.Strength = next
			p.LastConfirmedAt = now
		})
		return nil
	default:
		return &model.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", u.Operation)}
	}
}

func (s *Store) applyRule(ctx context.Context, tx *sql.Tx, u model.LearningUpdate, after *[]func()) error {
	switch u.Operation {
	case model.OpCreate:
		if u.Target.Condition == "" || u.Target.Action == "" {
			return &model.ValidationError{Field: "rule", Reason: "condition and action must not be empty"}
		}
		_, _, commit, err := s.addRuleLocked(ctx, tx, u.Target.Condition, u.Target.Action, u.ResultingConfidence)
		if err != nil {
			return err
		}
		*after = append(*after, commit)
		return nil
	case model.OpSupersede:
		r, ok := s.rules[u.Target.ID]
		if !ok {
			return &model.NotFoundError{Kind: "rule", ID: u.Target.ID}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE rules SET condition = ?, action = ?, strength = ? WHERE id = ?`,
			u.Target.Condition, u.Target.Action, u.ResultingConfidence, r.ID); err != nil {
			return fmt.Errorf("supersede rule: %w", err)
		}
		*after = append(*after, func() {
			r.Condition = u.Target.Condition
			r.Action = u.Target.Action
			r.Strength = u.ResultingConfidence
		})
		return nil
	case model.OpReinforce, model.OpWeaken:
		r, ok := s.rules[u.Target.ID]
		if !ok {
			return &model.NotFoundError{Kind: "rule", ID: u.Target.ID}
		}
		delta := u.Delta
		if u.Operation == model.OpWeaken {
			delta = -delta
		}
		next := clamp01(r.Strength + delta)
		if _, err := tx.ExecContext(ctx,
			`UPDATE rules SET strength = ? WHERE id = ?`, next, r.ID); err != nil {
			return fmt.Errorf("adjust rule: %w", err)
		}
		*after = append(*after, func() { r.Strength = next })
		return nil
	default:
		return &model.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", u.Operation)}
	}
}

func (s *Store) applyMemory(ctx context.Context, tx *sql.Tx, u model.LearningUpdate, after *[]func()) error {
	now := time.Now().UTC()
	switch u.Operation {
	case model.OpCreate:
		kind := u.Target.MemoryKind
		if kind == "" {
			kind = model.KindEpisodic
		}
		if u.Target.Content == "" {
			return &model.ValidationError{Field: "content", Reason: "must not be empty"}
		}
		e := &model.MemoryEntry{
			ID:             s.newID(),
			Kind:           kind,
			Content:        u.Target.Content,
			Importance:     clamp01(u.ResultingConfidence),
			CreatedAt:      now,
			LastAccessedAt: now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memories (id, kind, content, importance, created_at, last_accessed_at, access_count, protected)
			 VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
			e.ID, e.Kind, e.Content, e.Importance, fmtTime(e.CreatedAt), fmtTime(e.LastAccessedAt)); err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		*after = append(*after, func() {
			s.entries[e.ID] = e
			s.idx.Add(e.ID, e.Content, e.LastAccessedAt)
		})
		return nil
	case model.OpReinforce, model.OpWeaken:
		e, ok := s.entries[u.Target.ID]
		if !ok {
			return &model.NotFoundError{Kind: "memory", ID: u.Target.ID}
		}
		delta := u.Delta
		if u.Operation == model.OpWeaken {
			delta = -delta
		}
		next := clamp01(e.Importance + delta)
		if u.Operation == model.OpReinforce {
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET importance = ?, last_reinforced_at = ? WHERE id = ?`,
				next, fmtTime(now), e.ID); err != nil {
				return fmt.Errorf("reinforce memory: %w", err)
			}
			*after = append(*after, func() {
				e.Importance = next
				e.LastReinforcedAt = &now
			})
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET importance = ? WHERE id = ?`, next, e.ID); err != nil {
			return fmt.Errorf("weaken memory: %w", err)
		}
		*after = append(*after, func() { e.Importance = next })
		return nil
	case model.OpSupersede:
		e, ok := s.entries[u.Target.ID]
		if !ok {
			return &model.NotFoundError{Kind: "memory", ID: u.Target.ID}
		}
		if u.Target.Content == "" {
			return &model.ValidationError{Field: "content", Reason: "must not be empty"}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET content = ?, importance = ? WHERE id = ?`,
			u.Target.Content, clamp01(u.ResultingConfidence), e.ID); err != nil {
			return fmt.Errorf("supersede memory: %w", err)
		}
		*after = append(*after, func() {
			e.Content = u.Target.Content
			e.Importance = clamp01(u.ResultingConfidence)
			s.idx.Add(e.ID, e.Content, e.LastAccessedAt)
		})
		return nil
	default:
		return &model.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", u.Operation)}
	}
}
