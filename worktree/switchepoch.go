package worktree

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicolagi/worktree/internal/buffer"
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/epoch"
)

// switchEpoch implements SwitchEpoch (spec.md §4.5): fetch every open
// buffer's base text under the new commit (bounded-concurrency fan-out,
// grounded on internal/tree.Tree.grow's semaphore+errgroup pattern), then
// swap the new epoch into place, drain any ops deferred for it, re-home
// every open buffer, and deliver the resulting text deltas.
//
// If the active epoch changes underneath while the fan-out is in flight
// (another StartEpoch won the race), the whole attempt restarts: w.mu is
// never held across the GitProvider.BaseText calls.
func (w *WorkTree) switchEpoch(ctx context.Context, newEpoch *epoch.Epoch, newID clock.Lamport, head epoch.Oid) ([]Operation, error) {
	for {
		w.mu.Lock()
		epochAtStart := w.epochID
		open := w.snapshotOpenBuffers()
		oldEpoch := w.epoch
		w.mu.Unlock()

		texts, err := fetchBaseTexts(ctx, w.provider, head, open, newEpoch)
		if err != nil {
			return nil, errorf("switchEpoch", "%w: %v", ErrIO, err)
		}

		w.mu.Lock()
		if w.epoch != nil && !w.epochID.Equal(epochAtStart) {
			w.mu.Unlock()
			log.Debug("worktree: epoch changed during SwitchEpoch fan-out, restarting")
			continue
		}

		w.epoch = newEpoch
		w.epochID = newID
		w.head = head

		var fixups []Operation
		if q, ok := w.deferred[newID]; ok {
			delete(w.deferred, newID)
			var batch []epoch.Op
			for _, op := range q.Drain() {
				if op.Kind == KindEpochOperation {
					batch = append(batch, op.Op)
				}
			}
			if len(batch) > 0 {
				drained, err := newEpoch.ApplyOps(batch, w.localClock, w.lamportClock)
				if err != nil {
					w.mu.Unlock()
					return nil, errorf("switchEpoch", "applying deferred ops: %w", err)
				}
				for _, f := range drained {
					fixups = append(fixups, EpochOperationOf(newID, f))
				}
			}
		}
		for id := range w.deferred {
			if !newID.Less(id) {
				delete(w.deferred, id)
			}
		}

		var changeOps []changeDelivery
		for i, ob := range open {
			newFileID, ok := newEpoch.FileID(ob.path)
			if !ok {
				newFileID = epoch.NewFileId(w.localClock.Tick())
			}
			var oldText string
			if oldEpoch != nil {
				if oldBuf, ok := oldEpoch.TextBuffer(ob.fileID); ok {
					oldText = oldBuf.Text()
				}
			}
			newBuf := buffer.NewFromText(texts[i])
			if err := newEpoch.InstallBuffer(newFileID, newBuf, w.localClock, w.lamportClock); err != nil {
				w.mu.Unlock()
				return nil, errorf("switchEpoch", "installing buffer for %q: %w", ob.path, err)
			}
			w.buffers[ob.id] = newFileID
			if oldText != newBuf.Text() {
				changeOps = append(changeOps, changeDelivery{id: ob.id, changes: buffer.DiffText(oldText, newBuf.Text())})
			}
		}
		w.mu.Unlock()

		if w.observer != nil {
			for _, c := range changeOps {
				w.observer.TextChanged(c.id, c.changes)
			}
		}

		return fixups, nil
	}
}

type changeDelivery struct {
	id      BufferId
	changes []buffer.Change
}

// fetchBaseTexts fetches the base text of every open buffer's current path
// under head, fanned out with bounded concurrency. A path absent from
// newEpoch (the file did not survive the reset) is skipped rather than
// fetched: the caller mints a fresh file for it instead. The result slice
// is positionally aligned with open.
func fetchBaseTexts(ctx context.Context, provider GitProvider, head epoch.Oid, open []openBuffer, newEpoch *epoch.Epoch) ([]string, error) {
	texts := make([]string, len(open))
	if len(open) == 0 {
		return texts, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentBaseTextFetches)
	for i, ob := range open {
		i, ob := i, ob
		if _, ok := newEpoch.FileID(ob.path); !ok {
			continue
		}
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()
			text, err := provider.BaseText(gctx, head, ob.path)
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}
