package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/daz2208/adaptive-memory/internal/model"
)

// RecordDecision persists a decided stimulus: a row in the decision log, an
// episodic memory of the stimulus, and an entry in the decision similarity
// index so later stimuli can be scored for historical consistency.
func (s *Store) RecordDecision(ctx context.Context, d model.Decision) error {
	if d.ID == "" || d.StimulusText == "" {
		return &model.ValidationError{Field: "decision", Reason: "id and stimulus text are required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := d.DecidedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e := &model.MemoryEntry{
		ID:             s.newID(),
		Kind:           model.KindEpisodic,
		Content:        d.StimulusText,
		Importance:     d.Confidence,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decisions (id, stimulus_id, stimulus_text, mode, confidence, chosen_action, verdict, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.StimulusID, d.StimulusText, d.Mode, d.Confidence,
		nullStr(d.ChosenAction), d.AlignmentVerdict, fmtTime(now)); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, kind, content, importance, created_at, last_accessed_at, access_count, protected)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		e.ID, e.Kind, e.Content, e.Importance, fmtTime(e.CreatedAt), fmtTime(e.LastAccessedAt)); err != nil {
		return fmt.Errorf("insert episodic memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.entries[e.ID] = e
	s.idx.Add(e.ID, e.Content, e.LastAccessedAt)
	s.dix.Add(d.ID, d.StimulusText, now)
	return nil
}

// SimilarDecision pairs a past decision with its stimulus similarity.
type SimilarDecision struct {
	Decision model.Decision
	Score    float64
}

// SimilarDecisions returns up to k past decisions whose stimulus text is
// most similar to text. Divergence between the decision index and the
// decision log gets the same treatment as Recall: rebuild, retry once.
func (s *Store) SimilarDecisions(ctx context.Context, text string, k int) ([]SimilarDecision, error) {
	out, err := s.similarDecisions(ctx, text, k)
	if errors.Is(err, model.ErrIndexInconsistency) {
		s.log.Warn("decision index inconsistent with decision log, rebuilding")
		s.RebuildIndex()
		out, err = s.similarDecisions(ctx, text, k)
	}
	return out, err
}

func (s *Store) similarDecisions(ctx context.Context, text string, k int) ([]SimilarDecision, error) {
	s.mu.RLock()
	matches := s.dix.Query(text, k)
	s.mu.RUnlock()
	if len(matches) == 0 {
		return nil, nil
	}

	out := make([]SimilarDecision, 0, len(matches))
	for _, m := range matches {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, stimulus_id, stimulus_text, mode, confidence, chosen_action, verdict, decided_at
			 FROM decisions WHERE id = ?`, m.ID)
		var d model.Decision
		var action sql.NullString
		var decided string
		if err := row.Scan(&d.ID, &d.StimulusID, &d.StimulusText, &d.Mode,
			&d.Confidence, &action, &d.AlignmentVerdict, &decided); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, model.ErrIndexInconsistency
			}
			return nil, fmt.Errorf("load decision: %w", err)
		}
		d.ChosenAction = action.String
		d.DecidedAt = parseTime(decided)
		out = append(out, SimilarDecision{Decision: d, Score: m.Score})
	}
	return out, nil
}

// AddObservation persists a raw behavioral trace.
func (s *Store) AddObservation(ctx context.Context, dimension, value string, at time.Time) (*model.Observation, error) {
	if dimension == "" {
		return nil, &model.ValidationError{Field: "dimension", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &model.Observation{
		ID:         s.newID(),
		Dimension:  dimension,
		Value:      value,
		ObservedAt: at.UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, dimension, value, observed_at) VALUES (?, ?, ?, ?)`,
		o.ID, o.Dimension, o.Value, fmtTime(o.ObservedAt)); err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}
	return o, nil
}

// ObservationsSince returns observations of a dimension at or after since,
// oldest first.
func (s *Store) ObservationsSince(ctx context.Context, dimension string, since time.Time) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dimension, value, observed_at FROM observations
		 WHERE dimension = ? AND observed_at >= ? ORDER BY observed_at ASC`,
		dimension, fmtTime(since.UTC()))
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var observed string
		if err := rows.Scan(&o.ID, &o.Dimension, &o.Value, &observed); err != nil {
			return nil, err
		}
		o.ObservedAt = parseTime(observed)
		out = append(out, o)
	}
	return out, rows.Err()
}

// PutRehearsal upserts the rehearsal schedule for a memory.
func (s *Store) PutRehearsal(ctx context.Context, r model.Rehearsal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[r.MemoryID]; !ok {
		return &model.NotFoundError{Kind: "memory", ID: r.MemoryID}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rehearsals (memory_id, due_at, interval_ns, count, last_rehearsed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(memory_id) DO UPDATE SET
		   due_at = excluded.due_at,
		   interval_ns = excluded.interval_ns,
		   count = excluded.count,
		   last_rehearsed_at = excluded.last_rehearsed_at`,
		r.MemoryID, fmtTime(r.DueAt), int64(r.Interval), r.Count, fmtTimePtr(r.LastRehearsedAt))
	if err != nil {
		return fmt.Errorf("put rehearsal: %w", err)
	}
	return nil
}

// GetRehearsal returns the rehearsal schedule for a memory, if any.
func (s *Store) GetRehearsal(ctx context.Context, memoryID string) (*model.Rehearsal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT memory_id, due_at, interval_ns, count, last_rehearsed_at FROM rehearsals WHERE memory_id = ?`,
		memoryID)
	r, err := scanRehearsal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "rehearsal", ID: memoryID}
	}
	return r, err
}

// ListRehearsals returns all rehearsal schedules ordered by due date.
func (s *Store) ListRehearsals(ctx context.Context) ([]model.Rehearsal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id, due_at, interval_ns, count, last_rehearsed_at FROM rehearsals ORDER BY due_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load rehearsals: %w", err)
	}
	defer rows.Close()

	var out []model.Rehearsal
	for rows.Next() {
		var r model.Rehearsal
		var due string
		var intervalNS int64
		var last sql.NullString
		if err := rows.Scan(&r.MemoryID, &due, &intervalNS, &r.Count, &last); err != nil {
			return nil, err
		}
		r.DueAt = parseTime(due)
		r.Interval = time.Duration(intervalNS)
		r.LastRehearsedAt = parseTimePtr(last)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, rows.Err()
}

func scanRehearsal(row *sql.Row) (*model.Rehearsal, error) {
	var r model.Rehearsal
	var due string
	var intervalNS int64
	var last sql.NullString
	if err := row.Scan(&r.MemoryID, &due, &intervalNS, &r.Count, &last); err != nil {
		return nil, err
	}
	r.DueAt = parseTime(due)
	r.Interval = time.Duration(intervalNS)
	r.LastRehearsedAt = parseTimePtr(last)
	return &r, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
