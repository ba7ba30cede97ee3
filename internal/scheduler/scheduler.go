// Package scheduler runs the forgetting-prevention loop: periodic importance
// decay for unprotected memories, auto-protection of critical ones, and
// spaced rehearsal scheduling so protected knowledge keeps resurfacing.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

// Scheduler drives decay sweeps and rehearsal bookkeeping against one store.
type Scheduler struct {
	cfg config.Scheduler
	st  *store.Store
	log *zap.Logger
	now func() time.Time
}

// New returns a scheduler bound to st.
func New(cfg config.Scheduler, st *store.Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		st:  st,
		log: logger.With(zap.String("component", "scheduler")),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on the configured interval until ctx is canceled. A sweep
// failure is logged and the loop keeps going; transient SQLite errors should
// not kill the maintenance loop.
func (sc *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sc.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := sc.Sweep(ctx, sc.now()); err != nil {
				sc.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one maintenance pass: decay every unprotected entry by the
// saturating curve, auto-protect entries at or above the critical threshold,
// and put newly protected entries on the rehearsal schedule.
func (sc *Scheduler) Sweep(ctx context.Context, now time.Time) (store.SweepStats, error) {
	stats, err := sc.st.DecaySweep(ctx, now, sc.decay)
	if err != nil {
		return stats, fmt.Errorf("decay sweep: %w", err)
	}
	for _, e := range stats.Protected {
		r := model.Rehearsal{
			MemoryID: e.ID,
			DueAt:    now.Add(sc.cfg.RehearsalBase),
			Interval: sc.cfg.RehearsalBase,
		}
		if err := sc.st.PutRehearsal(ctx, r); err != nil {
			return stats, fmt.Errorf("schedule rehearsal: %w", err)
		}
		sc.log.Info("memory auto-protected",
			zap.String("memory_id", e.ID),
			zap.Float64("importance", e.Importance),
			zap.Time("rehearsal_due", r.DueAt))
	}
	if stats.Decayed > 0 {
		sc.log.Debug("decay applied", zap.Int("entries", stats.Decayed))
	}
	return stats, nil
}

// decay returns the importance loss for one entry: a curve that rises with
// time since last access but saturates at MaxDecay, so even a long-idle
// entry never loses more than MaxDecay per sweep.
func (sc *Scheduler) decay(e model.MemoryEntry, now time.Time) float64 {
	elapsed := now.Sub(e.LastAccessedAt)
	if elapsed <= 0 {
		return 0
	}
	tau := sc.cfg.DecayTau.Seconds()
	if tau <= 0 {
		return sc.cfg.MaxDecay
	}
	return sc.cfg.MaxDecay * (1 - math.Exp(-elapsed.Seconds()/tau))
}

// DueRehearsals returns rehearsals due at or before now, soonest first.
func (sc *Scheduler) DueRehearsals(ctx context.Context, now time.Time) ([]model.Rehearsal, error) {
	all, err := sc.st.ListRehearsals(ctx)
	if err != nil {
		return nil, err
	}
	var due []model.Rehearsal
	for _, r := range all {
		if !r.DueAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// MarkRehearsed records a completed rehearsal for a memory: the entry is
// reinforced, and the next interval grows by the spacing factor. A rehearsal
// completed after its due date passed by more than one interval counts as
// missed, and the interval resets to the base before scheduling again.
func (sc *Scheduler) MarkRehearsed(ctx context.Context, memoryID string, now time.Time) (*model.Rehearsal, error) {
	r, err := sc.st.GetRehearsal(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if err := sc.st.Reinforce(ctx, memoryID, sc.cfg.RehearsalBoost); err != nil {
		return nil, fmt.Errorf("reinforce rehearsed memory: %w", err)
	}

	next := time.Duration(float64(r.Interval) * sc.cfg.RehearsalFactor)
	if now.After(r.DueAt.Add(r.Interval)) {
		next = sc.cfg.RehearsalBase
	}
	at := now
	updated := model.Rehearsal{
		MemoryID:        r.MemoryID,
		DueAt:           now.Add(next),
		Interval:        next,
		Count:           r.Count + 1,
		LastRehearsedAt: &at,
	}
	if err := sc.st.PutRehearsal(ctx, updated); err != nil {
		return nil, err
	}
	sc.log.Debug("rehearsal recorded",
		zap.String("memory_id", memoryID),
		zap.Duration("next_interval", next))
	return &updated, nil
}
