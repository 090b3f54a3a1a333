// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"fmt"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// Behavior is the per-item strategy a worker driver is parameterized
// by: how to resolve the records a work order references and how to
// score one pairing. The driver (channel polling, sentinel handshake)
// is shared; the behavior is what varies.
type Behavior interface {
	ResolveScan(id string) (*types.Scan, error)
	ResolveModification(name string) (*types.Modification, error)
	Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (MatchResult, error)
}

// cachingBehavior resolves scans and modifications through a private
// write-once cache backed by the shared snapshot: first miss reads the
// snapshot, every later lookup is served locally. The cache needs no
// synchronization because exactly one worker owns it and the backing
// snapshot never mutates during a batch.
type cachingBehavior struct {
	snapshot *Snapshot
	eval     Evaluator
	scans    map[string]*types.Scan
	mods     map[string]*types.Modification
}

func newCachingBehavior(snapshot *Snapshot, eval Evaluator) *cachingBehavior {
	return &cachingBehavior{
		snapshot: snapshot,
		eval:     eval,
		scans:    make(map[string]*types.Scan),
		mods: map[string]*types.Modification{
			types.Unmodified.Name: types.Unmodified,
		},
	}
}

func (b *cachingBehavior) ResolveScan(id string) (*types.Scan, error) {
	if scan, ok := b.scans[id]; ok {
		return scan, nil
	}
	scan, ok := b.snapshot.Scan(id)
	if !ok {
		return nil, fmt.Errorf("scan %q not in snapshot", id)
	}
	b.scans[id] = scan
	return scan, nil
}

func (b *cachingBehavior) ResolveModification(name string) (*types.Modification, error) {
	if mod, ok := b.mods[name]; ok {
		return mod, nil
	}
	mod, ok := b.snapshot.Modification(name)
	if !ok {
		return nil, fmt.Errorf("modification %q not in snapshot", name)
	}
	b.mods[name] = mod
	return mod, nil
}

func (b *cachingBehavior) Evaluate(scan *types.Scan, target types.Structure, mod *types.Modification, args types.EvalArgs) (MatchResult, error) {
	return b.eval.Evaluate(scan, target, mod, args)
}
