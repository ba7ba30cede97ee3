package model

import "time"

// Observation is a persisted raw behavioral trace. Single observations are
// kept but never promoted to learning updates on their own.
type Observation struct {
	ID         string    `json:"id"`
	Dimension  string    `json:"dimension"`
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Rehearsal tracks the spaced-repetition schedule for a protected memory.
// The scheduler owns due-date bookkeeping; rehearsal success is signaled
// externally when the entry is retrieved and used.
type Rehearsal struct {
	MemoryID        string        `json:"memory_id"`
	DueAt           time.Time     `json:"due_at"`
	Interval        time.Duration `json:"interval"`
	Count           int           `json:"count"`
	LastRehearsedAt *time.Time    `json:"last_rehearsed_at,omitempty"`
}
