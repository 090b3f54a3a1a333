// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dispatch distributes a batch of independent structure-to-scan
// scoring tasks across a pool of workers, collects the per-pair scores,
// and guarantees every submitted pairing is scored exactly once even if
// workers stall or die. When workers stop producing output within a
// strike budget, the dispatcher degrades to synchronous in-process
// evaluation of whatever was never confirmed, without losing or
// duplicating work.
// Implements: prd007-dispatch; docs/ARCHITECTURE § Dispatch Engine.
package dispatch

import "fmt"

// State enumerates the dispatcher lifecycle. Transitions are driven
// solely by the liveness monitor's observations; there is no external
// cancellation path.
type State int

const (
	StateStart State = iota
	StateSpawning
	StateRunning
	// StateRunningWorkersLive: the monitor gave up on worker output
	// while workers were presumed still computing.
	StateRunningWorkersLive
	// StateRunningWorkersDead: every worker sent its sentinel but
	// results were still missing past the trailing timeout.
	StateRunningWorkersDead
	StateTerminating
	StateTerminatingWorkersLive
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateRunningWorkersLive:
		return "running-workers-live"
	case StateRunningWorkersDead:
		return "running-workers-dead"
	case StateTerminating:
		return "terminating"
	case StateTerminatingWorkersLive:
		return "terminating-workers-live"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is a liveness observation that drives a State transition.
type Event int

const (
	// EventSpawn: the coordinator is creating the pool.
	EventSpawn Event = iota
	// EventRun: the feeder and collector are live.
	EventRun
	// EventSuspectWorkersDead: sentinels all received, trailing strike
	// budget exhausted.
	EventSuspectWorkersDead
	// EventSuspectWorkersLive: workers presumed running, pool-scaled
	// strike budget exhausted.
	EventSuspectWorkersLive
	// EventTerminate: the coordinator is tearing the pool down.
	EventTerminate
	// EventFinished: teardown complete.
	EventFinished
)

func (e Event) String() string {
	switch e {
	case EventSpawn:
		return "spawn"
	case EventRun:
		return "run"
	case EventSuspectWorkersDead:
		return "suspect-workers-dead"
	case EventSuspectWorkersLive:
		return "suspect-workers-live"
	case EventTerminate:
		return "terminate"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Transition returns the state that follows s on ev. Unknown pairs
// return s unchanged along with an error; the dispatcher logs and
// ignores those rather than crashing mid-batch.
func Transition(s State, ev Event) (State, error) {
	switch ev {
	case EventSpawn:
		if s == StateStart || s == StateDone {
			return StateSpawning, nil
		}
	case EventRun:
		if s == StateSpawning {
			return StateRunning, nil
		}
	case EventSuspectWorkersDead:
		if s == StateRunning {
			return StateRunningWorkersDead, nil
		}
	case EventSuspectWorkersLive:
		if s == StateRunning {
			return StateRunningWorkersLive, nil
		}
	case EventTerminate:
		switch s {
		case StateRunning, StateRunningWorkersDead:
			return StateTerminating, nil
		case StateRunningWorkersLive:
			return StateTerminatingWorkersLive, nil
		case StateSpawning:
			// Pool spawned but never run (single-item evaluation mode).
			return StateTerminating, nil
		}
	case EventFinished:
		if s == StateTerminating || s == StateTerminatingWorkersLive {
			return StateDone, nil
		}
	}
	return s, fmt.Errorf("no transition from %s on %s", s, ev)
}
