// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batchfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/spectrum-engine/internal/dispatch"
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validManifest = `
scans:
  - id: s1
    precursor_mass: 1200.5
    peaks:
      - {mz: 300.0, intensity: 2.0}
      - {mz: 100.0, intensity: 1.0}
      - {mz: 200.0, intensity: 1.5}
  - id: s2
    peaks:
      - {mz: 150.0, intensity: 1.0}
modifications:
  - {name: ammonium, mass: 17.027}
hits:
  - id: 1
    name: alpha
    fragments: [100.0, 200.0]
    scans: [s1, s2]
    scan_modifications:
      s2: ammonium
  - id: 2
    name: beta
    fragments: [150.0]
    scans: [s2]
`

func TestLoadValidManifest(t *testing.T) {
	batch, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	require.Len(t, batch.ScanMap, 2)
	assert.Equal(t, 1200.5, batch.ScanMap["s1"].PrecursorMass)

	// Peaks come back sorted by m/z regardless of manifest order.
	peaks := batch.ScanMap["s1"].Peaks
	require.Len(t, peaks, 3)
	assert.Equal(t, 100.0, peaks[0].Mz)
	assert.Equal(t, 200.0, peaks[1].Mz)
	assert.Equal(t, 300.0, peaks[2].Mz)

	require.Len(t, batch.HitMap, 2)
	alpha := batch.HitMap[1].(*types.Candidate)
	assert.Equal(t, "alpha", alpha.Name)
	assert.Equal(t, []float64{100.0, 200.0}, alpha.Fragments)
	assert.Equal(t, []string{"s1", "s2"}, batch.HitToScan[1])

	// Declared assignment sticks; everything else defaults to Unmodified.
	assert.Equal(t, "ammonium", batch.ScanHitTypeMap[dispatch.HitScanKey{HitID: 1, ScanID: "s2"}])
	assert.Equal(t, types.Unmodified.Name, batch.ScanHitTypeMap[dispatch.HitScanKey{HitID: 1, ScanID: "s1"}])
	assert.Equal(t, types.Unmodified.Name, batch.ScanHitTypeMap[dispatch.HitScanKey{HitID: 2, ScanID: "s2"}])

	// The modification table always carries Unmodified.
	assert.Contains(t, batch.Modifications, types.Unmodified.Name)
	assert.Equal(t, 17.027, batch.Modifications["ammonium"].Mass)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading manifest")
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeManifest(t, "scans: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing manifest")
}

func TestBuildValidation(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			"no scans",
			`hits: [{id: 1, scans: [s1]}]`,
			"declares no scans",
		},
		{
			"no hits",
			`scans: [{id: s1}]`,
			"declares no hits",
		},
		{
			"duplicate scan id",
			`
scans: [{id: s1}, {id: s1}]
hits: [{id: 1, scans: [s1]}]`,
			`duplicate scan id "s1"`,
		},
		{
			"duplicate hit id",
			`
scans: [{id: s1}]
hits: [{id: 1, scans: [s1]}, {id: 1, scans: [s1]}]`,
			"duplicate hit id 1",
		},
		{
			"hit without scans",
			`
scans: [{id: s1}]
hits: [{id: 1}]`,
			"maps to no scans",
		},
		{
			"unknown scan reference",
			`
scans: [{id: s1}]
hits: [{id: 1, scans: [s9]}]`,
			`references unknown scan "s9"`,
		},
		{
			"unknown modification reference",
			`
scans: [{id: s1}]
hits:
  - id: 1
    scans: [s1]
    scan_modifications: {s1: phantom}`,
			`unknown modification "phantom"`,
		},
		{
			"assignment to unmapped scan",
			`
scans: [{id: s1}, {id: s2}]
modifications: [{name: ammonium, mass: 17.027}]
hits:
  - id: 1
    scans: [s1]
    scan_modifications: {s2: ammonium}`,
			"it does not map to",
		},
		{
			"empty modification name",
			`
scans: [{id: s1}]
modifications: [{name: "", mass: 1.0}]
hits: [{id: 1, scans: [s1]}]`,
			"modification with empty name",
		},
		{
			"duplicate modification",
			`
scans: [{id: s1}]
modifications: [{name: ammonium, mass: 17.027}, {name: ammonium, mass: 18.0}]
hits: [{id: 1, scans: [s1]}]`,
			`duplicate modification "ammonium"`,
		},
		{
			"empty scan id",
			`
scans: [{id: ""}]
hits: [{id: 1, scans: [s1]}]`,
			"scan with empty id",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tc.manifest))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBuildFeedsDispatchDirectly(t *testing.T) {
	// The loaded tables must satisfy dispatch's batch preconditions
	// without further massaging.
	batch, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	cfg := types.DispatchConfig{Workers: 1, PollInterval: time.Millisecond}
	d := dispatch.New(&countingEvaluator{}, batch.Modifications, nil, cfg)
	solutions, err := d.Process(batch.ScanMap, batch.HitMap, batch.HitToScan, batch.ScanHitTypeMap)
	require.NoError(t, err)
	assert.Equal(t, 3, solutions.TotalMatches())
}

type countingEvaluator struct{}

func (e *countingEvaluator) Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (dispatch.MatchResult, error) {
	return dispatch.MatchResult{Target: target, Score: 1}, nil
}
