// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

func TestFeederDealsEveryOrderThenClosesInput(t *testing.T) {
	scanMap, hitMap, hitToScan, scanHitTypeMap, mods, eval := testBatch(t)

	// Zero workers: nothing consumes the input channel, so the dealt
	// orders can be inspected directly.
	d := New(eval, mods, nil, testConfig(0))
	d.SpawnPool(scanMap)
	d.startFeeder(hitMap, hitToScan, scanHitTypeMap)

	orders := make(map[int64]WorkOrder)
	for i := 0; i < len(hitToScan); i++ {
		select {
		case order := <-d.input:
			orders[order.Target.ID()] = order
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a work order")
		}
	}

	require.Len(t, orders, 2)
	assert.Equal(t, []ScanSpec{
		{ScanID: "10", Modification: "none"},
		{ScanID: "11", Modification: "none"},
	}, orders[1].Specs)
	assert.Equal(t, []ScanSpec{{ScanID: "12", Modification: "none"}}, orders[2].Specs)

	// With the channel drained the feeder must close it.
	select {
	case _, open := <-d.input:
		assert.False(t, open, "input channel must be closed after the final drain")
	case <-time.After(2 * time.Second):
		t.Fatal("input channel was not closed")
	}

	d.ClearPool()
}

func TestFeederForwardsDuplicateHitError(t *testing.T) {
	scanMap, hitMap, hitToScan, scanHitTypeMap, mods, eval := testBatch(t)
	hitMap[2] = hitMap[1]

	d := New(eval, mods, nil, testConfig(0))
	d.SpawnPool(scanMap)
	d.startFeeder(hitMap, hitToScan, scanHitTypeMap)

	// Drain whatever was dealt before the duplicate was noticed, then
	// expect the construction error.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-d.feederErr:
			assert.ErrorIs(t, err, ErrDuplicateHit)
			d.ClearPool()
			return
		case <-d.input:
		case <-deadline:
			t.Fatal("timed out waiting for the duplicate-hit error")
		}
	}
}

func TestFeederStopsOnTeardownWithoutClosingInput(t *testing.T) {
	// A full input channel with no consumers: the drain wait must
	// yield to the stop signal so teardown stays bounded.
	scanMap := map[string]*types.Scan{"10": {ID: "10"}}
	hitMap := make(map[int64]types.Structure)
	hitToScan := make(map[int64][]string)
	scanHitTypeMap := make(map[HitScanKey]string)
	for i := int64(1); i <= 8; i++ {
		hitMap[i] = &types.Candidate{HitID: i}
		hitToScan[i] = []string{"10"}
		scanHitTypeMap[HitScanKey{HitID: i, ScanID: "10"}] = "none"
	}
	mods := map[string]*types.Modification{"none": {Name: "none"}}

	cfg := testConfig(0)
	cfg.InputQueueSize = 2
	d := New(&stubEvaluator{scores: map[string]float64{}}, mods, nil, cfg)
	d.SpawnPool(scanMap)
	d.startFeeder(hitMap, hitToScan, scanHitTypeMap)

	// Give the feeder time to fill the channel and block.
	time.Sleep(10 * time.Millisecond)

	finished := make(chan struct{})
	go func() {
		d.ClearPool()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete while the feeder was blocked")
	}
	assert.Equal(t, StateDone, d.State())
}

func TestBuildWorkOrderPacksSpecsInScanOrder(t *testing.T) {
	_, hitMap, hitToScan, scanHitTypeMap, mods, eval := testBatch(t)
	d := New(eval, mods, nil, testConfig(0))

	order := d.buildWorkOrder(1, hitMap, hitToScan, scanHitTypeMap)
	assert.Equal(t, int64(1), order.Target.ID())
	require.Len(t, order.Specs, 2)
	assert.Equal(t, "10", order.Specs[0].ScanID)
	assert.Equal(t, "11", order.Specs[1].ScanID)
}
