package hub

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Giorgiomufen/display-sync/pkg/protocol"
)

// persistJob is store work run on the persistence worker. The func it
// returns, if any, runs on the loop afterwards.
type persistJob func(ctx context.Context) func()

// persist queues job without blocking the loop.
func (h *Hub) persist(job persistJob) error {
	select {
	case h.persistCh <- job:
		return nil
	default:
		return ErrPersistQueueFull
	}
}

// submitPersist queues job from outside the loop, waiting for room.
func (h *Hub) submitPersist(ctx context.Context, job persistJob) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.persistCh <- job:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persistWorker runs jobs one at a time in queue order, so store writes
// land in the order the loop issued them.
func (h *Hub) persistWorker(ctx context.Context) {
	for {
		select {
		case job := <-h.persistCh:
			if apply := h.runPersist(ctx, job); apply != nil {
				if h.call(ctx, apply) != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// runPersist runs one job. A job already started on shutdown still gets
// its full PersistTimeout.
func (h *Hub) runPersist(ctx context.Context, job persistJob) (apply func()) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.PersistTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			h.metrics.dispatchPanics.Inc()
			h.logger.Error("persist panic", "panic", r, "stack", string(debug.Stack()))
			apply = nil
		}
	}()
	return job(ctx)
}

// libraryJob runs op and re-reads the listing on the worker. Back on the
// loop it broadcasts the new listing when there is one, then calls done
// with the first error.
func (h *Hub) libraryJob(op func(ctx context.Context) error, done func(err error)) persistJob {
	return func(ctx context.Context) func() {
		err := op(ctx)
		var entries []protocol.LibraryEntry
		if err == nil {
			entries, err = h.libraryEntries(ctx)
		}
		return func() {
			if entries != nil {
				h.setLibrary(entries)
			}
			done(err)
		}
	}
}

// saveLayout queues a copy of the current layout for the store. A failed
// write is reported to c as an error for msg.
func (h *Hub) saveLayout(c *Conn, msg *protocol.Inbound) error {
	l := h.state.CanvasLayout.Clone()
	return h.persist(func(ctx context.Context) func() {
		err := h.store.SaveLayout(ctx, l)
		if err == nil {
			return nil
		}
		return func() {
			h.runOp(c, msg, "save_layout", func(context.Context) error {
				return fmt.Errorf("save layout: %w", err)
			})
		}
	})
}
