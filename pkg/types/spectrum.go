// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data model for spectrum-engine:
// scans, modifications, candidate structures, matches, and the
// configuration structs consumed by the CLI and the dispatch engine.
package types

import (
	"fmt"
	"sync"
)

// Peak is a single centroided mass spectral peak.
type Peak struct {
	Mz        float64 `json:"mz" yaml:"mz"`
	Intensity float64 `json:"intensity" yaml:"intensity"`
}

// Scan is one recorded measurement unit that candidate structures are
// scored against. Scans are owned by the coordinator and immutable for
// the duration of a batch; workers share them, they never mutate them.
type Scan struct {
	// ID is the stable scan identity used to key work orders and results.
	ID string `json:"id" yaml:"id"`

	// PrecursorMass is the neutral mass of the selected precursor.
	PrecursorMass float64 `json:"precursor_mass" yaml:"precursor_mass"`

	// Peaks is the centroided peak list, sorted by ascending m/z.
	Peaks []Peak `json:"peaks" yaml:"peaks"`
}

// Modification is a named chemical-shift variant applied when matching
// a structure to a scan. Immutable; identified by name.
type Modification struct {
	Name string  `json:"name" yaml:"name"`
	Mass float64 `json:"mass" yaml:"mass"`
}

// Unmodified is the default zero-mass modification. Every modification
// resolution cache is pre-seeded with it.
var Unmodified = &Modification{Name: "Unmodified", Mass: 0}

// Structure is a candidate entity competing to match one or more scans.
// Implementations must have a stable identity for the life of a batch.
type Structure interface {
	ID() int64
}

// CacheClearer is implemented by structures that keep internal scoring
// caches. Workers clear the cache after a structure's last evaluation;
// absence of the interface is ignored.
type CacheClearer interface {
	ClearCaches()
}

// Candidate is the concrete Structure used by the CLI path and the
// built-in scorer: a named fragment mass ladder with a per-candidate
// score memo.
type Candidate struct {
	// HitID is the stable hit identity the candidate is dispatched under.
	HitID int64 `json:"id" yaml:"id"`

	// Name is a human-readable label used in summaries and diagnostics.
	Name string `json:"name" yaml:"name"`

	// Fragments is the theoretical fragment mass ladder, unshifted.
	Fragments []float64 `json:"fragments" yaml:"fragments"`

	// mu guards memo. A candidate is normally held by one worker at a
	// time, but during a degraded batch the coordinator's fallback may
	// re-score a candidate while a silent worker is still evaluating it.
	mu   sync.Mutex
	memo map[string]float64
}

// ID returns the candidate's stable hit identity.
func (c *Candidate) ID() int64 { return c.HitID }

func (c *Candidate) String() string {
	return fmt.Sprintf("Candidate(%d, %s)", c.HitID, c.Name)
}

// Memo returns a previously memoized score for key.
func (c *Candidate) Memo(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.memo[key]
	return s, ok
}

// SetMemo records a score under key. Safe for concurrent use.
func (c *Candidate) SetMemo(key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memo == nil {
		c.memo = make(map[string]float64)
	}
	c.memo[key] = score
}

// ClearCaches drops the score memo. Called after a candidate's last
// evaluation in an item, on whichever path scored it.
func (c *Candidate) ClearCaches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo = nil
}

// Match records one scored pairing of a scan and a structure under a
// modification.
type Match struct {
	Scan         *Scan
	Target       Structure
	Score        float64
	Modification *Modification
}

// SolutionSet is a batch's final output: scan id to all candidate
// matches for that scan. Append-only; owned by the coordinator and
// mutated only by the single-threaded collector/reconstructor sequence.
type SolutionSet map[string][]*Match

// Add appends a match under its scan's id.
func (s SolutionSet) Add(m *Match) {
	s[m.Scan.ID] = append(s[m.Scan.ID], m)
}

// TotalMatches returns the number of matches across all scans.
func (s SolutionSet) TotalMatches() int {
	n := 0
	for _, matches := range s {
		n += len(matches)
	}
	return n
}

// EvalArgs carries tuning arguments passed through verbatim to the
// scoring collaborator.
type EvalArgs map[string]any
