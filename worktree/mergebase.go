package worktree

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nicolagi/worktree/internal/epoch"
)

// ParentsOf fetches the parent commits of head, oldest-reachable-ancestor
// discovery only: it never changes CRDT semantics and is never on the
// apply path. A GitProvider that cannot report history (e.g. a fixture with
// a flat set of unrelated commits) can return (nil, nil) for every head.
type ParentsOf func(ctx context.Context, head epoch.Oid) ([]epoch.Oid, error)

// MergeBase finds a common ancestor of a and b by growing two BFS
// frontiers in lockstep and stopping the first time either one reaches a
// commit the other has already visited, mirroring the teacher's
// tree/mergebase bidirectional search. Used only for diagnostics/logging
// when a Reset jumps to a commit unrelated to the previous one: it never
// changes CRDT semantics.
func MergeBase(ctx context.Context, parents ParentsOf, a, b epoch.Oid) (epoch.Oid, error) {
	if a == b {
		return a, nil
	}
	heads := [2]map[epoch.Oid]bool{{a: true}, {b: true}}
	visited := [2]map[epoch.Oid]bool{{}, {}}

	for turn := 0; ; turn++ {
		side := turn % 2
		other := (turn + 1) % 2
		if len(heads[0])+len(heads[1]) == 0 {
			return epoch.Oid{}, ErrNoMergeBase
		}
		next := make(map[epoch.Oid]bool)
		for child := range heads[side] {
			if visited[side][child] {
				continue
			}
			visited[side][child] = true
			ps, err := parents(ctx, child)
			if errors.Is(err, errNotFound) {
				// Trim this path: the commit is gone (e.g. history rewritten
				// or garbage-collected), not a reason to abort the search.
				log.WithFields(log.Fields{"commit": child}).Debug("worktree: merge base search trimming missing commit")
				continue
			}
			if err != nil {
				return epoch.Oid{}, errors.Wrap(err, "worktree.MergeBase")
			}
			for _, p := range ps {
				next[p] = true
				if visited[other][p] || heads[other][p] {
					log.WithFields(log.Fields{"a": a, "b": b, "base": p}).Debug("worktree: merge base found")
					return p, nil
				}
			}
		}
		heads[side] = next
	}
}
