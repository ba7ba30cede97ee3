package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/daz2208/adaptive-memory/internal/model"
)

const timeFmt = time.RFC3339Nano

// db wraps the SQLite handle with schema management and row mapping.
type db struct {
	*sql.DB
	path string
}

func openDB(dbPath string) (*db, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	h, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	d := &db{DB: h, path: dbPath}
	if err := d.migrate(); err != nil {
		h.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *db) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                 TEXT PRIMARY KEY,
		kind               TEXT NOT NULL,
		content            TEXT NOT NULL,
		importance         REAL NOT NULL,
		created_at         TEXT NOT NULL,
		last_accessed_at   TEXT NOT NULL,
		last_reinforced_at TEXT,
		access_count       INTEGER NOT NULL DEFAULT 0,
		protected          INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);

	CREATE TABLE IF NOT EXISTS preferences (
		id                TEXT PRIMARY KEY,
		category          TEXT NOT NULL,
		statement         TEXT NOT NULL,
		normalized        TEXT NOT NULL,
		strength          REAL NOT NULL,
		source            TEXT NOT NULL,
		created_at        TEXT NOT NULL,
		last_confirmed_at TEXT NOT NULL,
		UNIQUE (category, normalized)
	);

	CREATE TABLE IF NOT EXISTS rules (
		id         TEXT PRIMARY KEY,
		condition  TEXT NOT NULL,
		action     TEXT NOT NULL,
		strength   REAL NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id            TEXT PRIMARY KEY,
		stimulus_id   TEXT NOT NULL,
		stimulus_text TEXT NOT NULL,
		mode          TEXT NOT NULL,
		confidence    REAL NOT NULL,
		chosen_action TEXT,
		verdict       TEXT NOT NULL,
		decided_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_decided ON decisions(decided_at DESC);

	CREATE TABLE IF NOT EXISTS observations (
		id          TEXT PRIMARY KEY,
		dimension   TEXT NOT NULL,
		value       TEXT NOT NULL,
		observed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_observations_dim ON observations(dimension, observed_at);

	CREATE TABLE IF NOT EXISTS rehearsals (
		memory_id         TEXT PRIMARY KEY REFERENCES memories(id),
		due_at            TEXT NOT NULL,
		interval_ns       INTEGER NOT NULL,
		count             INTEGER NOT NULL DEFAULT 0,
		last_rehearsed_at TEXT
	);
	`
	_, err := d.Exec(schema)
	return err
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeFmt) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFmt, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func (d *db) loadMemories() ([]*model.MemoryEntry, error) {
	rows, err := d.Query(`SELECT id, kind, content, importance, created_at,
		last_accessed_at, last_reinforced_at, access_count, protected FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	defer rows.Close()

	var entries []*model.MemoryEntry
	for rows.Next() {
		var e model.MemoryEntry
		var created, accessed string
		var reinforced sql.NullString
		var protected int
		if err := rows.Scan(&e.ID, &e.Kind, &e.Content, &e.Importance,
			&created, &accessed, &reinforced, &e.AccessCount, &protected); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		e.LastAccessedAt = parseTime(accessed)
		e.LastReinforcedAt = parseTimePtr(reinforced)
		e.Protected = protected != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (d *db) loadPreferences() ([]*model.Preference, error) {
	rows, err := d.Query(`SELECT id, category, statement, strength, source,
		created_at, last_confirmed_at FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*model.Preference
	for rows.Next() {
		var p model.Preference
		var created, confirmed string
		if err := rows.Scan(&p.ID, &p.Category, &p.Statement, &p.Strength,
			&p.Source, &created, &confirmed); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		p.LastConfirmedAt = parseTime(confirmed)
		prefs = append(prefs, &p)
	}
	return prefs, rows.Err()
}

func (d *db) loadRules() ([]*model.Rule, error) {
	rows, err := d.Query(`SELECT id, condition, action, strength, created_at FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.Rule
	for rows.Next() {
		var r model.Rule
		var created string
		if err := rows.Scan(&r.ID, &r.Condition, &r.Action, &r.Strength, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func (d *db) loadDecisions() ([]*model.Decision, error) {
	rows, err := d.Query(`SELECT id, stimulus_id, stimulus_text, mode, confidence,
		chosen_action, verdict, decided_at FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*model.Decision
	for rows.Next() {
		var dec model.Decision
		var action sql.NullString
		var decided string
		if err := rows.Scan(&dec.ID, &dec.StimulusID, &dec.StimulusText, &dec.Mode,
			&dec.Confidence, &action, &dec.AlignmentVerdict, &decided); err != nil {
			return nil, err
		}
		dec.ChosenAction = action.String
		dec.DecidedAt = parseTime(decided)
		decisions = append(decisions, &dec)
	}
	return decisions, rows.Err()
}
