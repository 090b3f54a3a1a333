// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batchfile loads YAML batch manifests into the four tables
// the dispatch engine consumes.
// Implements: prd007-dispatch (CLI surface); docs/ARCHITECTURE § Batch Manifest.
package batchfile

import (
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/spectrum-engine/internal/dispatch"
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// Manifest is the on-disk YAML shape of one batch.
type Manifest struct {
	Scans         []ScanEntry `yaml:"scans"`
	Modifications []ModEntry  `yaml:"modifications"`
	Hits          []HitEntry  `yaml:"hits"`
}

// ScanEntry declares one scan.
type ScanEntry struct {
	ID            string       `yaml:"id"`
	PrecursorMass float64      `yaml:"precursor_mass"`
	Peaks         []types.Peak `yaml:"peaks"`
}

// ModEntry declares one named modification.
type ModEntry struct {
	Name string  `yaml:"name"`
	Mass float64 `yaml:"mass"`
}

// HitEntry declares one candidate and the scans it maps to. A scan
// missing from ScanModifications is matched Unmodified.
type HitEntry struct {
	ID                int64             `yaml:"id"`
	Name              string            `yaml:"name"`
	Fragments         []float64         `yaml:"fragments"`
	Scans             []string          `yaml:"scans"`
	ScanModifications map[string]string `yaml:"scan_modifications"`
}

// Batch holds the loaded, validated dispatch inputs.
type Batch struct {
	ScanMap        map[string]*types.Scan
	HitMap         map[int64]types.Structure
	HitToScan      map[int64][]string
	ScanHitTypeMap map[dispatch.HitScanKey]string
	Modifications  map[string]*types.Modification
}

// Load reads, parses, and validates a batch manifest. Scan peaks are
// sorted by ascending m/z on load, as the scorer requires.
func Load(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m.Build()
}

// Build converts a parsed manifest into dispatch inputs, validating
// referential integrity early so dispatch never sees a dangling id.
func (m *Manifest) Build() (*Batch, error) {
	if len(m.Scans) == 0 {
		return nil, fmt.Errorf("manifest declares no scans")
	}
	if len(m.Hits) == 0 {
		return nil, fmt.Errorf("manifest declares no hits")
	}

	b := &Batch{
		ScanMap:        make(map[string]*types.Scan, len(m.Scans)),
		HitMap:         make(map[int64]types.Structure, len(m.Hits)),
		HitToScan:      make(map[int64][]string, len(m.Hits)),
		ScanHitTypeMap: make(map[dispatch.HitScanKey]string),
		Modifications: map[string]*types.Modification{
			types.Unmodified.Name: types.Unmodified,
		},
	}

	for _, entry := range m.Modifications {
		if entry.Name == "" {
			return nil, fmt.Errorf("modification with empty name")
		}
		if _, ok := b.Modifications[entry.Name]; ok && entry.Name != types.Unmodified.Name {
			return nil, fmt.Errorf("duplicate modification %q", entry.Name)
		}
		b.Modifications[entry.Name] = &types.Modification{Name: entry.Name, Mass: entry.Mass}
	}

	for _, entry := range m.Scans {
		if entry.ID == "" {
			return nil, fmt.Errorf("scan with empty id")
		}
		if _, ok := b.ScanMap[entry.ID]; ok {
			return nil, fmt.Errorf("duplicate scan id %q", entry.ID)
		}
		peaks := make([]types.Peak, len(entry.Peaks))
		copy(peaks, entry.Peaks)
		sort.Slice(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz })
		b.ScanMap[entry.ID] = &types.Scan{
			ID:            entry.ID,
			PrecursorMass: entry.PrecursorMass,
			Peaks:         peaks,
		}
	}

	for _, entry := range m.Hits {
		if _, ok := b.HitMap[entry.ID]; ok {
			return nil, fmt.Errorf("duplicate hit id %d", entry.ID)
		}
		if len(entry.Scans) == 0 {
			return nil, fmt.Errorf("hit %d maps to no scans", entry.ID)
		}
		for scanID, modName := range entry.ScanModifications {
			if !contains(entry.Scans, scanID) {
				return nil, fmt.Errorf("hit %d assigns modification %q to scan %q it does not map to", entry.ID, modName, scanID)
			}
		}
		b.HitMap[entry.ID] = &types.Candidate{
			HitID:     entry.ID,
			Name:      entry.Name,
			Fragments: entry.Fragments,
		}
		scanIDs := make([]string, 0, len(entry.Scans))
		for _, scanID := range entry.Scans {
			if _, ok := b.ScanMap[scanID]; !ok {
				return nil, fmt.Errorf("hit %d references unknown scan %q", entry.ID, scanID)
			}
			modName := entry.ScanModifications[scanID]
			if modName == "" {
				modName = types.Unmodified.Name
			}
			if _, ok := b.Modifications[modName]; !ok {
				return nil, fmt.Errorf("hit %d on scan %q references unknown modification %q", entry.ID, scanID, modName)
			}
			scanIDs = append(scanIDs, scanID)
			b.ScanHitTypeMap[dispatch.HitScanKey{HitID: entry.ID, ScanID: scanID}] = modName
		}
		b.HitToScan[entry.ID] = scanIDs
	}
	return b, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
