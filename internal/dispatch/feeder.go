// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// ErrDuplicateHit reports a structure dealt twice by the feeder under
// different hit ids. It signals corrupted upstream input, so it is
// fatal to the batch rather than retried.
var ErrDuplicateHit = errors.New("hit already dealt")

// feedDrainInterval is how many dealt items pass between full
// input-channel drain waits, bounding memory use for very large
// batches.
const feedDrainInterval = 10000

// feed serializes the batch's task graph into individual work orders
// and publishes them on the input channel. It closes the channel only
// after the channel has fully drained, which is the workers' no-more-
// input signal. Runs as one goroutine per batch.
func (d *Dispatcher) feed(hitMap map[int64]types.Structure, hitToScan map[int64][]string, scanHitTypeMap map[HitScanKey]string) {
	i, n := 0, len(hitToScan)
	dealt := make(map[int64]int64, n)
	for hitID, scanIDs := range hitToScan {
		i++
		hit := hitMap[hitID]
		// A structure whose own id disagrees with the key it was
		// registered under points at an upstream construction problem.
		// Logged, not fatal.
		if hit.ID() != hitID {
			d.log.Warn().Int64("hit", hit.ID()).Int64("hit_id", hitID).
				Str("target", describe(hit)).
				Msg("hit does not match the id it was registered under")
			if other, ok := hitToScan[hit.ID()]; ok && !equalScanIDs(other, scanIDs) {
				d.log.Warn().Int("registered", len(scanIDs)).Int("actual", len(other)).
					Msg("id mismatch leads to different scan lists")
			}
		}
		// The same structure dealt twice is unrecoverable: results
		// would be double-counted downstream.
		if first, ok := dealt[hit.ID()]; ok {
			err := fmt.Errorf("%w: %s first dealt under hit id %d, now again at %d",
				ErrDuplicateHit, describe(hit), first, hitID)
			select {
			case d.feederErr <- err:
			default:
			}
			return
		}
		dealt[hit.ID()] = hitID

		if i%feedDrainInterval == 0 {
			if !d.waitInputDrained() {
				return
			}
			d.log.Info().Int("dealt", i).
				Float64("pct", float64(i)*100/float64(n)).
				Msg("dealt work items")
		}
		select {
		case d.input <- d.buildWorkOrder(hitID, hitMap, hitToScan, scanHitTypeMap):
		case <-d.stopFeeder:
			return
		}
	}
	d.log.Debug().Int("dealt", i).Msg("finished dealing work items")
	if !d.waitInputDrained() {
		return
	}
	d.closeInput()
}

// buildWorkOrder packs the task-defining tables into the dispatch unit
// for one structure.
func (d *Dispatcher) buildWorkOrder(hitID int64, hitMap map[int64]types.Structure, hitToScan map[int64][]string, scanHitTypeMap map[HitScanKey]string) WorkOrder {
	scanIDs := hitToScan[hitID]
	specs := make([]ScanSpec, 0, len(scanIDs))
	for _, scanID := range scanIDs {
		specs = append(specs, ScanSpec{
			ScanID:       scanID,
			Modification: scanHitTypeMap[HitScanKey{HitID: hitID, ScanID: scanID}],
		})
	}
	return WorkOrder{Target: hitMap[hitID], Specs: specs}
}

// waitInputDrained blocks until the input channel is empty, or the
// dispatcher signals the feeder to stop. Returning false means stop:
// the caller must not close the channel, teardown owns it from here.
func (d *Dispatcher) waitInputDrained() bool {
	for len(d.input) > 0 {
		select {
		case <-d.stopFeeder:
			return false
		case <-time.After(d.cfg.PollInterval):
		}
	}
	return true
}

func equalScanIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
