// Package reconcile implements the three-way reconciliation algorithm:
// given four directory indices (local-now, local-last, remote-now,
// remote-last) it produces a minimal, conflict-resolved, priority-sorted
// sequence of sync operations.
package reconcile

import "sort"

// Verb names a single kind of filesystem mutation.
type Verb int

const (
	Mkdir Verb = iota
	Rmdir
	Rm
	Cp
	Push
	Fetch
	Mv
)

func (v Verb) String() string {
	switch v {
	case Mkdir:
		return "mkdir"
	case Rmdir:
		return "rmdir"
	case Rm:
		return "rm"
	case Cp:
		return "cp"
	case Push:
		return "push"
	case Fetch:
		return "fetch"
	case Mv:
		return "mv"
	default:
		return "unknown"
	}
}

// priority orders operations so that a folder exists before anything is
// written into it, transfers land before the removals that might depend
// on them (a rename modeled as cp-then-rm must keep the cp first), and
// removals run last of all. Higher value runs first.
func (v Verb) priority() int {
	switch v {
	case Mkdir:
		return 4
	case Cp, Fetch, Push:
		return 3
	case Mv:
		return 2
	case Rm, Rmdir:
		return 1
	default:
		return 0
	}
}

// Operation is a single planned filesystem mutation.
type Operation struct {
	Verb   Verb
	Source string
	Dest   string
	Remote bool // true if the remote peer must execute this operation
}

// SortByPriority stably sorts ops by (mkdirs, copies/fetches/pushes,
// moves, removals).
func SortByPriority(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Verb.priority() > ops[j].Verb.priority()
	})
}

// isTransfer reports whether v moves file content rather than just
// naming or removing an entry.
func isTransfer(v Verb) bool {
	switch v {
	case Cp, Push, Fetch:
		return true
	default:
		return false
	}
}

// StripDeleted removes any transfer operation whose source path appears
// in deletedPaths — a deletion recorded in either peer's deletion log
// trumps any transfer for the same path. Rm/Rmdir/Mv/Mkdir are left
// alone: an rm that itself propagates the deletion must survive this
// filter, or the deletion never reaches the peer.
func StripDeleted(ops []Operation, deletedPaths []string) []Operation {
	if len(deletedPaths) == 0 {
		return ops
	}
	deleted := make(map[string]bool, len(deletedPaths))
	for _, p := range deletedPaths {
		deleted[p] = true
	}
	out := ops[:0]
	for _, op := range ops {
		if isTransfer(op.Verb) && deleted[op.Source] {
			continue
		}
		out = append(out, op)
	}
	return out
}
