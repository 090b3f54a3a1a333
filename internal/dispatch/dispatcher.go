// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/spectrum-engine/internal/logx"
	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// ErrNoWorkerAvailable reports a single-item evaluation attempted
// against an empty pool.
var ErrNoWorkerAvailable = errors.New("no worker available")

// strikeLogInterval is how many idle collector cycles pass between
// progress log lines.
const strikeLogInterval = 50

// seenRecord notes when a structure's result was first observed:
// the collector iteration count and the reporting worker, or
// iteration -1 when the structure was reconstructed locally, so
// provenance stays distinguishable in logs.
type seenRecord struct {
	iteration int
	worker    int
}

// Dispatcher orchestrates distributing scoring work across a pool of
// workers: it owns the shared snapshot, the worker lifecycle, the
// feeder, the result collector with its liveness monitor, and the
// local fallback path.
type Dispatcher struct {
	cfg       types.DispatchConfig
	eval      Evaluator
	evalArgs  types.EvalArgs
	localMods map[string]*types.Modification
	log       zerolog.Logger

	state      State
	snapshot   *Snapshot
	localScans map[string]*types.Scan
	workers    []*worker

	input        chan WorkOrder
	output       chan envelope
	consumerDone chan struct{}
	stopFeeder   chan struct{}
	feederExited chan struct{}
	feederErr    chan error
	feederLive   bool

	closeInputOnce   *sync.Once
	stopFeederOnce   *sync.Once
	consumerDoneOnce *sync.Once

	solutions types.SolutionSet
	sentinels map[int]bool
}

// New builds a dispatcher around the given scoring collaborator.
// evalArgs are passed through verbatim on every evaluation. A nil or
// empty modification map defaults to {Unmodified}.
func New(eval Evaluator, modifications map[string]*types.Modification, evalArgs types.EvalArgs, cfg types.DispatchConfig) *Dispatcher {
	mods := make(map[string]*types.Modification, len(modifications)+1)
	for name, mod := range modifications {
		mods[name] = mod
	}
	if len(mods) == 0 {
		mods[types.Unmodified.Name] = types.Unmodified
	}
	return &Dispatcher{
		cfg:       cfg.WithDefaults(),
		eval:      eval,
		evalArgs:  evalArgs,
		localMods: mods,
		state:     StateStart,
		log:       logx.Log.With().Str("component", "dispatch").Logger(),
	}
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State { return d.state }

// transition applies ev through the closed transition table, logging
// and ignoring pairs the table rejects.
func (d *Dispatcher) transition(ev Event) {
	next, err := Transition(d.state, ev)
	if err != nil {
		d.log.Debug().Str("state", d.state.String()).Str("event", ev.String()).
			Msg("ignoring invalid state transition")
		return
	}
	d.state = next
}

// SpawnPool builds the batch snapshot from scanMap and spawns the
// configured number of workers against fresh channels. Each worker
// gets a coordinator-issued sequential id and a private caching
// resolver backed by the snapshot.
func (d *Dispatcher) SpawnPool(scanMap map[string]*types.Scan) {
	d.transition(EventSpawn)
	d.snapshot = NewSnapshot(scanMap, d.localMods)
	d.localScans = make(map[string]*types.Scan, len(scanMap))
	for id, scan := range scanMap {
		d.localScans[id] = scan
	}

	d.input = make(chan WorkOrder, d.cfg.InputQueueSize)
	d.output = make(chan envelope, d.cfg.OutputQueueSize)
	d.consumerDone = make(chan struct{})
	d.stopFeeder = make(chan struct{})
	d.feederExited = make(chan struct{})
	d.feederErr = make(chan error, 1)
	d.feederLive = false
	d.closeInputOnce = new(sync.Once)
	d.stopFeederOnce = new(sync.Once)
	d.consumerDoneOnce = new(sync.Once)
	d.sentinels = make(map[int]bool)

	d.workers = make([]*worker, 0, d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		w := &worker{
			id:           i,
			behavior:     newCachingBehavior(d.snapshot, d.eval),
			evalArgs:     d.evalArgs,
			in:           d.input,
			out:          d.output,
			consumerDone: d.consumerDone,
			pollInterval: d.cfg.WorkerPollInterval,
			done:         make(chan struct{}),
			log:          d.log.With().Int("worker", i).Logger(),
		}
		d.workers = append(d.workers, w)
		go w.run()
	}
}

// ClearPool tears down the pool: stop the feeder, release the workers'
// shutdown handshake, and join each worker with a bounded wait. A
// worker that refuses to join is logged and abandoned — never
// force-killed — and the batch closes out regardless.
func (d *Dispatcher) ClearPool() {
	d.transition(EventTerminate)
	d.stopFeederOnce.Do(func() { close(d.stopFeeder) })
	if d.feederLive {
		<-d.feederExited
	}
	d.closeInput()
	d.consumerDoneOnce.Do(func() { close(d.consumerDone) })
	for _, w := range d.workers {
		select {
		case <-w.done:
		case <-time.After(d.cfg.JoinTimeout):
			d.log.Warn().Int("worker", w.id).Bool("work_complete", w.allWorkDone()).
				Msg("worker did not join within timeout; abandoning it")
		}
	}
	d.workers = nil
	d.snapshot = nil
	d.localScans = nil
	d.transition(EventFinished)
}

// closeInput closes the work-order channel exactly once, whichever of
// the feeder or teardown gets there first.
func (d *Dispatcher) closeInput() {
	d.closeInputOnce.Do(func() { close(d.input) })
}

// startFeeder runs feed in its own goroutine so dealing work proceeds
// in tandem with collecting results.
func (d *Dispatcher) startFeeder(hitMap map[int64]types.Structure, hitToScan map[int64][]string, scanHitTypeMap map[HitScanKey]string) {
	d.feederLive = true
	go func() {
		defer close(d.feederExited)
		d.feed(hitMap, hitToScan, scanHitTypeMap)
	}()
}

// allWorkersFinished reports whether the collector has received a
// sentinel from every worker. Vacuously true for an empty pool, which
// routes zero-worker batches through the shorter trailing timeout.
func (d *Dispatcher) allWorkersFinished() bool {
	return len(d.sentinels) == len(d.workers)
}

// Evaluate scores a single pairing through the same scoring entry
// point the pool uses, for one-off evaluations outside batch mode.
// The pool must already be spawned.
func (d *Dispatcher) Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (MatchResult, error) {
	if len(d.workers) == 0 {
		return MatchResult{}, fmt.Errorf("cannot evaluate a match without a spawned worker pool: %w", ErrNoWorkerAvailable)
	}
	return d.workers[0].behavior.Evaluate(scan, target, mod, args)
}

// Process runs one batch to completion and returns the accumulated
// scan-to-matches table. Every structure in hitToScan ends up scored
// via exactly one of worker completion or local reconstruction. The
// only error returned from a healthy batch is the duplicate-hit
// construction error; every other fault degrades to local
// reconstruction with log-visible warnings.
func (d *Dispatcher) Process(scanMap map[string]*types.Scan, hitMap map[int64]types.Structure, hitToScan map[int64][]string, scanHitTypeMap map[HitScanKey]string) (types.SolutionSet, error) {
	if err := validateBatch(scanMap, hitMap, hitToScan, scanHitTypeMap, d.localMods); err != nil {
		return nil, err
	}

	d.solutions = make(types.SolutionSet)
	d.SpawnPool(scanMap)
	d.startFeeder(hitMap, hitToScan, scanHitTypeMap)
	d.transition(EventRun)

	n := len(hitToScan)
	if n != len(hitMap) {
		d.log.Warn().Int("hit_map", len(hitMap)).Int("hit_to_scan", n).
			Msg("mismatch between hit map and hit-to-scan sizes")
	}
	pairs := 0
	for _, scanIDs := range hitToScan {
		pairs += len(scanIDs)
	}
	d.log.Info().Int("pairs", pairs).Int("structures", n).Msg("searching matches")

	childThreshold := d.cfg.ChildFailureTimeout * (1 + d.cfg.Workers%4)
	seen := make(map[int64]seenRecord, n)
	strikes := 0
	i := 0
	var batchErr error

	for hasWork := true; hasWork; {
		select {
		case env := <-d.output:
			if env.sentinel {
				d.log.Debug().Int("worker", env.worker).Msg("received sentinel")
				d.sentinels[env.worker] = true
				continue
			}
			id := env.target.ID()
			if first, dup := seen[id]; dup {
				// The invariant is one accepted result per structure;
				// a late duplicate is logged and dropped.
				d.log.Warn().Int64("hit", id).
					Int("first_iteration", first.iteration).Int("first_worker", first.worker).
					Int("iteration", i).Int("worker", env.worker).
					Msg("duplicate results for structure; dropping")
			} else {
				seen[id] = seenRecord{iteration: i, worker: env.worker}
				d.storeResult(env.target, env.scores)
			}
			if i > n && (i-n)%10 == 0 {
				d.log.Warn().Int("extra", i-n).Msg("additional output received beyond batch size")
			}
			i++
			strikes = 0
			if i%1000 == 0 {
				d.log.Info().Int("processed", i).
					Float64("pct", float64(i)*100/float64(n)).
					Msg("processed structures")
			}

		case err := <-d.feederErr:
			batchErr = err
			hasWork = false

		case <-time.After(d.cfg.PollInterval):
			if len(seen) == n {
				hasWork = false
				continue
			}
			strikes++
			if d.allWorkersFinished() {
				if strikes%strikeLogInterval == 0 {
					d.log.Info().Int("strikes", strikes).Int("seen", len(seen)).Int("total", n).
						Msg("cycles without output after workers finished")
				}
				if strikes > d.cfg.PostSearchTrailingTimeout {
					d.transition(EventSuspectWorkersDead)
					d.log.Warn().Int("missing", n-len(seen)).
						Msg("too much time elapsed with missing items; evaluating serially")
					if err := d.reconstructMissing(seen, hitMap, hitToScan, scanHitTypeMap); err != nil {
						batchErr = err
					}
					hasWork = false
				}
			} else {
				if strikes%strikeLogInterval == 0 {
					d.log.Info().Int("strikes", strikes).Int("seen", len(seen)).Int("total", n).
						Int("input_queued", len(d.input)).
						Msg("cycles without output with workers presumed live")
				}
				if strikes > childThreshold {
					d.transition(EventSuspectWorkersLive)
					d.log.Warn().Int("missing", n-len(seen)).
						Msg("too much time elapsed with missing items and live workers; evaluating serially")
					if err := d.reconstructMissing(seen, hitMap, hitToScan, scanHitTypeMap); err != nil {
						batchErr = err
					}
					hasWork = false
				}
			}
		}
	}

	d.log.Debug().Msg("consumer done")
	solutions := d.solutions
	d.ClearPool()
	if batchErr != nil {
		return nil, batchErr
	}
	d.log.Info().Int("matches", solutions.TotalMatches()).Msg("finished processing matches")
	return solutions, nil
}

// storeResult appends one match per scored pairing to the solution
// set, resolving records through the coordinator's own local maps.
func (d *Dispatcher) storeResult(target types.Structure, scores map[ScanSpec]float64) {
	for spec, score := range scores {
		d.solutions.Add(&types.Match{
			Scan:         d.localScans[spec.ScanID],
			Target:       target,
			Score:        score,
			Modification: d.localMods[spec.Modification],
		})
	}
}

// reconstructMissing synchronously re-evaluates every structure never
// confirmed scored, through the exact same scoring entry point the
// workers use, so both paths yield identical scores. Results are
// recorded under sentinel iteration -1. Errors here propagate; there
// is no second safety net.
func (d *Dispatcher) reconstructMissing(seen map[int64]seenRecord, hitMap map[int64]types.Structure, hitToScan map[int64][]string, scanHitTypeMap map[HitScanKey]string) error {
	missing := make([]int64, 0)
	for hitID := range hitToScan {
		if _, ok := seen[hitID]; !ok {
			missing = append(missing, hitID)
		}
	}
	sort.Slice(missing, func(a, b int) bool { return missing[a] < missing[b] })
	d.log.Info().Int("missing", len(missing)).Msg("reconstructing unconfirmed work items locally")

	for idx, hitID := range missing {
		order := d.buildWorkOrder(hitID, hitMap, hitToScan, scanHitTypeMap)
		target, scores, err := d.evaluateOrderLocal(order)
		if err != nil {
			return fmt.Errorf("reconstructing hit %d: %w", hitID, err)
		}
		seen[target.ID()] = seenRecord{iteration: -1}
		d.storeResult(target, scores)
		if (idx+1)%1000 == 0 {
			d.log.Info().Int("processed", idx+1).
				Float64("pct", float64(idx+1)*100/float64(len(missing))).
				Msg("processed local matches")
		}
	}
	return nil
}

// evaluateOrderLocal mirrors one iteration of the worker loop against
// the coordinator's own snapshot maps.
func (d *Dispatcher) evaluateOrderLocal(order WorkOrder) (types.Structure, map[ScanSpec]float64, error) {
	scores := make(map[ScanSpec]float64, len(order.Specs))
	var scored types.Structure
	for _, spec := range order.Specs {
		scan, ok := d.localScans[spec.ScanID]
		if !ok {
			return nil, nil, fmt.Errorf("scan %q not in local snapshot", spec.ScanID)
		}
		mod, ok := d.localMods[spec.Modification]
		if !ok {
			return nil, nil, fmt.Errorf("modification %q not in local snapshot", spec.Modification)
		}
		result, err := d.eval.Evaluate(scan, order.Target, mod, d.evalArgs)
		if err != nil {
			return nil, nil, err
		}
		scores[ScanSpec{ScanID: scan.ID, Modification: mod.Name}] = result.Score
		scored = result.Target
	}
	if clearer, ok := scored.(types.CacheClearer); ok {
		clearer.ClearCaches()
	}
	if scored == nil {
		scored = order.Target
	}
	return scored, scores, nil
}

// validateBatch enforces the Process preconditions up front so faults
// surface as errors instead of mid-batch reconstruction failures.
func validateBatch(scanMap map[string]*types.Scan, hitMap map[int64]types.Structure, hitToScan map[int64][]string, scanHitTypeMap map[HitScanKey]string, mods map[string]*types.Modification) error {
	for hitID, scanIDs := range hitToScan {
		if _, ok := hitMap[hitID]; !ok {
			return fmt.Errorf("hit %d referenced in hit_to_scan but missing from hit map", hitID)
		}
		for _, scanID := range scanIDs {
			if _, ok := scanMap[scanID]; !ok {
				return fmt.Errorf("scan %q referenced by hit %d but missing from scan map", scanID, hitID)
			}
			modName, ok := scanHitTypeMap[HitScanKey{HitID: hitID, ScanID: scanID}]
			if !ok {
				return fmt.Errorf("no modification assigned for hit %d on scan %q", hitID, scanID)
			}
			if _, ok := mods[modName]; !ok {
				return fmt.Errorf("modification %q assigned for hit %d on scan %q is not registered", modName, hitID, scanID)
			}
		}
	}
	return nil
}
