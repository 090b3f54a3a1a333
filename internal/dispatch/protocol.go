// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"fmt"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// ScanSpec names one (scan, modification) pairing a structure must be
// scored against.
type ScanSpec struct {
	ScanID       string
	Modification string
}

// WorkOrder is the complete unit of dispatch for one structure: the
// structure itself plus every pairing it must be scored against.
type WorkOrder struct {
	Target types.Structure
	Specs  []ScanSpec
}

// HitScanKey identifies one (hit, scan) pairing in the batch inputs;
// it keys the modification assignment table.
type HitScanKey struct {
	HitID  int64
	ScanID string
}

// MatchResult is what the scoring collaborator returns for one
// (scan, structure, modification) evaluation.
type MatchResult struct {
	// Target is the scored structure, possibly cache-annotated by the
	// collaborator.
	Target types.Structure
	Score  float64
}

// Evaluator is the external scoring collaborator. Implementations must
// be deterministic for identical inputs and safe to call concurrently,
// including against the same structure: during a degraded batch the
// coordinator re-evaluates items a silent worker may still be holding.
// The dispatcher relies on determinism to guarantee worker and fallback
// paths produce identical scores.
type Evaluator interface {
	Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (MatchResult, error)
}

// envelope is one worker-to-collector message: either a scored
// structure with its per-pairing score map, or a sentinel marking the
// worker's clean shutdown.
type envelope struct {
	target   types.Structure
	scores   map[ScanSpec]float64
	worker   int
	sentinel bool
}

// describe renders a structure for diagnostics, preferring its own
// Stringer when it has one.
func describe(target types.Structure) string {
	if target == nil {
		return "<nil>"
	}
	if s, ok := target.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("structure %d", target.ID())
}
