// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// testWorker wires a worker to hand-fed channels so the driver can be
// exercised without a dispatcher.
func testWorker(t *testing.T, eval Evaluator, scans map[string]*types.Scan) (*worker, chan WorkOrder, chan envelope, chan struct{}) {
	t.Helper()
	in := make(chan WorkOrder, 8)
	out := make(chan envelope, 8)
	consumerDone := make(chan struct{})
	snapshot := NewSnapshot(scans, map[string]*types.Modification{
		"none": {Name: "none"},
	})
	w := &worker{
		id:           0,
		behavior:     newCachingBehavior(snapshot, eval),
		in:           in,
		out:          out,
		consumerDone: consumerDone,
		pollInterval: time.Millisecond,
		done:         make(chan struct{}),
		log:          zerolog.Nop(),
	}
	return w, in, out, consumerDone
}

func receiveEnvelope(t *testing.T, out chan envelope) envelope {
	t.Helper()
	select {
	case env := <-out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker output")
		return envelope{}
	}
}

func TestWorkerScoresItemAndPerformsHandshake(t *testing.T) {
	scans := map[string]*types.Scan{"s1": {ID: "s1"}, "s2": {ID: "s2"}}
	eval := &stubEvaluator{scores: map[string]float64{"s1": 1.5, "s2": 2.5}}
	w, in, out, consumerDone := testWorker(t, eval, scans)
	go w.run()

	in <- WorkOrder{
		Target: &types.Candidate{HitID: 5, Name: "E"},
		Specs: []ScanSpec{
			{ScanID: "s1", Modification: "none"},
			{ScanID: "s2", Modification: "none"},
		},
	}

	env := receiveEnvelope(t, out)
	require.False(t, env.sentinel)
	assert.Equal(t, int64(5), env.target.ID())
	assert.Equal(t, 0, env.worker)
	require.Len(t, env.scores, 2)
	assert.Equal(t, 1.5, env.scores[ScanSpec{ScanID: "s1", Modification: "none"}])
	assert.Equal(t, 2.5, env.scores[ScanSpec{ScanID: "s2", Modification: "none"}])

	// No more input: the worker must flag completion, send its
	// sentinel, and wait for the consumer before finishing.
	close(in)
	env = receiveEnvelope(t, out)
	assert.True(t, env.sentinel)
	assert.True(t, w.allWorkDone())

	select {
	case <-w.done:
		t.Fatal("worker finished before the consumer-done signal")
	case <-time.After(10 * time.Millisecond):
	}
	close(consumerDone)
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish after consumer-done")
	}
}

func TestWorkerSurvivesFailingItem(t *testing.T) {
	scans := map[string]*types.Scan{"s1": {ID: "s1"}}
	eval := &stubEvaluator{
		scores:   map[string]float64{"s1": 3},
		failures: map[int64]int{1: 1},
	}
	w, in, out, consumerDone := testWorker(t, eval, scans)
	go w.run()

	// First item fails and is dropped; the second must still be scored.
	in <- WorkOrder{Target: &types.Candidate{HitID: 1}, Specs: []ScanSpec{{ScanID: "s1", Modification: "none"}}}
	in <- WorkOrder{Target: &types.Candidate{HitID: 2}, Specs: []ScanSpec{{ScanID: "s1", Modification: "none"}}}
	close(in)

	env := receiveEnvelope(t, out)
	require.False(t, env.sentinel)
	assert.Equal(t, int64(2), env.target.ID())

	env = receiveEnvelope(t, out)
	assert.True(t, env.sentinel)
	assert.Equal(t, 2, w.itemsHandled, "both items count as handled")
	close(consumerDone)
	<-w.done
}

func TestWorkerSkipsEmptyOrders(t *testing.T) {
	eval := &stubEvaluator{scores: map[string]float64{}}
	w, in, out, consumerDone := testWorker(t, eval, map[string]*types.Scan{})
	go w.run()

	in <- WorkOrder{Target: &types.Candidate{HitID: 9}}
	close(in)

	// Nothing was scored, so the only message is the sentinel.
	env := receiveEnvelope(t, out)
	assert.True(t, env.sentinel)
	close(consumerDone)
	<-w.done
}

func TestWorkerClearsTargetCaches(t *testing.T) {
	scans := map[string]*types.Scan{"s1": {ID: "s1"}}
	eval := &memoizingEvaluator{}
	w, in, out, consumerDone := testWorker(t, eval, scans)
	go w.run()

	candidate := &types.Candidate{HitID: 3, Name: "C"}
	in <- WorkOrder{Target: candidate, Specs: []ScanSpec{{ScanID: "s1", Modification: "none"}}}
	receiveEnvelope(t, out)

	_, memoized := candidate.Memo("s1|none")
	assert.False(t, memoized, "cache must be cleared after the item's last evaluation")

	close(in)
	receiveEnvelope(t, out)
	close(consumerDone)
	<-w.done
}

// memoizingEvaluator exercises the cache-annotation path: it memoizes
// on the candidate the way the production scorer does.
type memoizingEvaluator struct{}

func (e *memoizingEvaluator) Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (MatchResult, error) {
	c := target.(*types.Candidate)
	c.SetMemo(scan.ID+"|"+mod.Name, 1)
	return MatchResult{Target: c, Score: 1}, nil
}

func TestCachingBehaviorResolution(t *testing.T) {
	snapshot := NewSnapshot(
		map[string]*types.Scan{"s1": {ID: "s1"}},
		map[string]*types.Modification{"ammonium": {Name: "ammonium", Mass: 17.027}},
	)
	b := newCachingBehavior(snapshot, &stubEvaluator{scores: map[string]float64{}})

	scan, err := b.ResolveScan("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", scan.ID)

	_, err = b.ResolveScan("missing")
	assert.Error(t, err)

	mod, err := b.ResolveModification("ammonium")
	require.NoError(t, err)
	assert.Equal(t, 17.027, mod.Mass)

	// Unmodified is pre-seeded in every cache.
	mod, err = b.ResolveModification(types.Unmodified.Name)
	require.NoError(t, err)
	assert.Equal(t, 0.0, mod.Mass)

	_, err = b.ResolveModification("missing")
	assert.Error(t, err)

	// Resolution is write-once: later lookups are served locally even
	// if the entry vanished from the backing snapshot.
	delete(snapshot.scans, "s1")
	scan, err = b.ResolveScan("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", scan.ID)
}

func TestSnapshotAlwaysCarriesUnmodified(t *testing.T) {
	snapshot := NewSnapshot(nil, nil)
	mod, ok := snapshot.Modification(types.Unmodified.Name)
	require.True(t, ok)
	assert.Equal(t, 0.0, mod.Mass)
	assert.Equal(t, 0, snapshot.Scans())
}
