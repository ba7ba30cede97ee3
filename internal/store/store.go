// Package store implements the hierarchical memory store: SQLite-backed
// persistence for memory entries, preferences and rules, with a synchronously
// maintained in-memory similarity index.
package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/index"
	"github.com/daz2208/adaptive-memory/internal/model"
)

// Store owns the lifetime and mutation of all memory state for one user
// namespace. The similarity index is a derived view rebuilt from store
// content; reads never observe it stale relative to the store.
//
// A single RWMutex serializes mutations (including the scheduler's sweep)
// against recalls, per the one-writer-per-namespace model.
type Store struct {
	cfg     config.Config
	log     *zap.Logger
	entropy *rand.Rand

	mu  sync.RWMutex
	db  *db
	idx *index.Index // memory entry content
	dix *index.Index // decided stimulus text

	entries map[string]*model.MemoryEntry
	prefs   map[string]*model.Preference
	rules   map[string]*model.Rule
}

// Open opens or creates the store at dbPath and loads all state into memory.
func Open(dbPath string, cfg config.Config, logger *zap.Logger) (*Store, error) {
	d, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{
		cfg:     cfg,
		log:     logger.With(zap.String("component", "store")),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		db:      d,
		idx:     index.New(),
		dix:     index.New(),
		entries: make(map[string]*model.MemoryEntry),
		prefs:   make(map[string]*model.Preference),
		rules:   make(map[string]*model.Rule),
	}
	if err := s.load(); err != nil {
		d.Close()
		return nil, err
	}
	s.log.Debug("store opened",
		zap.Int("memories", len(s.entries)),
		zap.Int("preferences", len(s.prefs)),
		zap.Int("rules", len(s.rules)))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// load populates the caches and rebuilds both indexes from persisted rows.
func (s *Store) load() error {
	entries, err := s.db.loadMemories()
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	prefs, err := s.db.loadPreferences()
	if err != nil {
		return err
	}
	for _, p := range prefs {
		s.prefs[p.ID] = p
	}
	rules, err := s.db.loadRules()
	if err != nil {
		return err
	}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	s.rebuildIndexesLocked()
	return nil
}

// rebuildIndexesLocked reconstructs both derived indexes from store content.
// Caller holds the write lock (or is still inside Open).
func (s *Store) rebuildIndexesLocked() {
	s.idx = index.New()
	for _, e := range s.entries {
		s.idx.Add(e.ID, e.Content, e.LastAccessedAt)
	}
	s.dix = index.New()
	decisions, err := s.db.loadDecisions()
	if err != nil {
		s.log.Warn("decision index rebuild skipped", zap.Error(err))
		return
	}
	for _, d := range decisions {
		s.dix.Add(d.ID, d.StimulusText, d.DecidedAt)
	}
}

// RebuildIndex rebuilds the memory similarity index from store content.
// Exposed for recovery from index inconsistency and for equivalence checks.
func (s *Store) RebuildIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildIndexesLocked()
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
