// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scoring implements the engine's built-in scoring
// collaborator: a fragment-peak coverage scorer for candidate
// structures against centroided scans.
// Implements: prd008-scoring; docs/ARCHITECTURE § Scoring.
package scoring

import (
	"fmt"
	"sort"

	"github.com/pdiddy/spectrum-engine/internal/dispatch"
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// PeakScorer scores a candidate's theoretical fragment ladder against
// a scan's peak list. The modification's mass shifts the whole ladder.
// The score is matched-intensity fraction weighted by ladder coverage,
// on a 0-100 scale. Deterministic and stateless per call, so it is
// safe to run the same pairing on any worker or on the fallback path.
type PeakScorer struct {
	// Tolerance is the absolute m/z window for fragment-peak matching.
	Tolerance float64
}

// NewPeakScorer builds a scorer from cfg with defaults applied.
func NewPeakScorer(cfg types.ScoringConfig) *PeakScorer {
	cfg = cfg.WithDefaults()
	return &PeakScorer{Tolerance: cfg.Tolerance}
}

// Evaluate implements dispatch.Evaluator. Scan peaks must be sorted by
// ascending m/z (the batch loader guarantees this). A "tolerance" key
// in args overrides the configured window for this call. Scores are
// memoized on the candidate per (scan, modification); the memo is the
// cache the dispatch layer clears after an item's last evaluation.
func (p *PeakScorer) Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (dispatch.MatchResult, error) {
	candidate, ok := target.(*types.Candidate)
	if !ok {
		return dispatch.MatchResult{}, fmt.Errorf("peak scorer requires *types.Candidate, got %T", target)
	}
	tolerance := p.Tolerance
	if v, ok := args["tolerance"].(float64); ok && v > 0 {
		tolerance = v
	}

	key := scan.ID + "|" + mod.Name
	if score, ok := candidate.Memo(key); ok {
		return dispatch.MatchResult{Target: candidate, Score: score}, nil
	}
	score := coverageScore(scan.Peaks, candidate.Fragments, mod.Mass, tolerance)
	candidate.SetMemo(key, score)
	return dispatch.MatchResult{Target: candidate, Score: score}, nil
}

// coverageScore matches each shifted fragment to its nearest peak
// within tolerance. Each peak is counted at most once even when
// several fragments land on it.
func coverageScore(peaks []types.Peak, fragments []float64, shift, tolerance float64) float64 {
	if len(peaks) == 0 || len(fragments) == 0 {
		return 0
	}
	total := 0.0
	for _, peak := range peaks {
		total += peak.Intensity
	}
	if total == 0 {
		return 0
	}

	matchedPeaks := make(map[int]bool, len(fragments))
	matchedFragments := 0
	for _, fragment := range fragments {
		idx, ok := nearestPeak(peaks, fragment+shift, tolerance)
		if !ok {
			continue
		}
		matchedFragments++
		matchedPeaks[idx] = true
	}
	if matchedFragments == 0 {
		return 0
	}

	matched := 0.0
	for idx := range matchedPeaks {
		matched += peaks[idx].Intensity
	}
	coverage := float64(matchedFragments) / float64(len(fragments))
	return 100 * coverage * (matched / total)
}

// nearestPeak finds the index of the peak closest to mz within
// tolerance, or ok=false when none is in the window.
func nearestPeak(peaks []types.Peak, mz, tolerance float64) (int, bool) {
	i := sort.Search(len(peaks), func(j int) bool { return peaks[j].Mz >= mz })
	best, bestDelta := -1, tolerance
	if i < len(peaks) {
		if delta := peaks[i].Mz - mz; delta <= bestDelta {
			best, bestDelta = i, delta
		}
	}
	if i > 0 {
		if delta := mz - peaks[i-1].Mz; delta <= bestDelta {
			best = i - 1
		}
	}
	return best, best >= 0
}
