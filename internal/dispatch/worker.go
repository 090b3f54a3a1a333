// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// worker is the channel-polling driver for one pool member. It pulls
// work orders with a timed receive, hands each to its Behavior, and
// flushes one result envelope per fully scored item. A failing item is
// logged and dropped; it never kills the worker.
type worker struct {
	// id is a coordinator-issued sequential identity, stable for the
	// life of the pool.
	id       int
	behavior Behavior
	evalArgs types.EvalArgs

	in           <-chan WorkOrder
	out          chan<- envelope
	consumerDone <-chan struct{}
	pollInterval time.Duration

	workComplete atomic.Bool
	itemsHandled int
	// done is closed when the goroutine returns; the coordinator joins
	// on it with a bounded wait.
	done chan struct{}
	log  zerolog.Logger
}

// allWorkDone reports whether this worker has finished its loop and
// flagged completion.
func (w *worker) allWorkDone() bool { return w.workComplete.Load() }

// run is the worker goroutine body. It exits once the input channel is
// closed and drained, then performs the sentinel handshake.
func (w *worker) run() {
	defer close(w.done)
	idle := 0
	for {
		select {
		case order, ok := <-w.in:
			if !ok {
				w.cleanup()
				return
			}
			idle = 0
			w.itemsHandled++
			if err := w.handleItem(order); err != nil {
				w.log.Error().Err(err).
					Str("target", describe(order.Target)).
					Msg("error while processing item; dropping it")
			}
		case <-time.After(w.pollInterval):
			idle++
			if idle%1000 == 0 {
				w.log.Debug().Int("iterations", idle).Msg("iterations without work")
			}
		}
	}
}

// handleItem scores one work order: resolve each referenced scan and
// modification through the behavior, evaluate once per pairing, then
// flush the accumulated score map. Nothing is flushed for an order
// with no pairings.
func (w *worker) handleItem(order WorkOrder) error {
	scores := make(map[ScanSpec]float64, len(order.Specs))
	var scored types.Structure
	for _, spec := range order.Specs {
		scan, err := w.behavior.ResolveScan(spec.ScanID)
		if err != nil {
			return fmt.Errorf("resolving scan for %s: %w", describe(order.Target), err)
		}
		mod, err := w.behavior.ResolveModification(spec.Modification)
		if err != nil {
			return fmt.Errorf("resolving modification for %s: %w", describe(order.Target), err)
		}
		result, err := w.behavior.Evaluate(scan, order.Target, mod, w.evalArgs)
		if err != nil {
			return fmt.Errorf("evaluating %s against scan %q (%s): %w",
				describe(order.Target), scan.ID, mod.Name, err)
		}
		scores[ScanSpec{ScanID: scan.ID, Modification: mod.Name}] = result.Score
		scored = result.Target
	}
	if clearer, ok := scored.(types.CacheClearer); ok {
		clearer.ClearCaches()
	}
	if len(scores) == 0 {
		return nil
	}
	w.out <- envelope{target: scored, scores: scores, worker: w.id}
	return nil
}

// cleanup performs the shutdown handshake: flag completion, push the
// sentinel, then wait for the coordinator to confirm it has finished
// consuming. The wait keeps the result channel alive under the worker
// until the collector is truly done with it.
func (w *worker) cleanup() {
	w.log.Debug().Int("items", w.itemsHandled).Msg("setting work complete flag")
	w.workComplete.Store(true)
	w.out <- envelope{worker: w.id, sentinel: true}
	<-w.consumerDone
	w.log.Debug().Msg("worker finished")
}
