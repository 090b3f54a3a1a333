// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// Snapshot is the read-mostly scan and modification store shared with
// every worker for one batch. It is populated exactly once by the
// coordinator before workers start and never mutated afterwards, which
// is what makes the workers' unsynchronized private caches safe.
type Snapshot struct {
	scans map[string]*types.Scan
	mods  map[string]*types.Modification
}

// NewSnapshot copies the given maps into a fresh snapshot. Unmodified
// is always present in the modification table.
func NewSnapshot(scans map[string]*types.Scan, mods map[string]*types.Modification) *Snapshot {
	s := &Snapshot{
		scans: make(map[string]*types.Scan, len(scans)),
		mods:  make(map[string]*types.Modification, len(mods)+1),
	}
	for id, scan := range scans {
		s.scans[id] = scan
	}
	for name, mod := range mods {
		s.mods[name] = mod
	}
	if _, ok := s.mods[types.Unmodified.Name]; !ok {
		s.mods[types.Unmodified.Name] = types.Unmodified
	}
	return s
}

// Scan returns the scan registered under id.
func (s *Snapshot) Scan(id string) (*types.Scan, bool) {
	scan, ok := s.scans[id]
	return scan, ok
}

// Modification returns the modification registered under name.
func (s *Snapshot) Modification(name string) (*types.Modification, bool) {
	mod, ok := s.mods[name]
	return mod, ok
}

// Scans returns the number of scans held.
func (s *Snapshot) Scans() int { return len(s.scans) }
