package pagecache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pagecache/wal"
)

// Recover replays the write-ahead log after a crash, restoring flushed page
// images to disk and rebuilding the per-shard allocator state.
//
// Records for different shards touch disjoint pages, so the log is
// partitioned by owning shard and replayed shard-parallel; within one shard
// records apply in log order. Concurrent replay work is bounded by the
// resource controller's background slots when one is configured.
//
// Recover must be called before any page traffic, on a router built by New
// with its write-ahead log attached.
func (r *Router) Recover(ctx context.Context) error {
	if r.pools == nil {
		return errors.New("pagecache: recovery requires a router constructed by New")
	}
	if r.lm == nil {
		return nil
	}

	perShard := make([][]wal.Record, len(r.pools))
	if err := r.lm.Replay(func(rec wal.Record) error {
		idx := int(rec.PageID % uint64(len(r.pools)))
		perShard[idx] = append(perShard[idx], rec)
		return nil
	}); err != nil {
		return fmt.Errorf("pagecache: read log: %w", err)
	}

	var g errgroup.Group
	for idx, recs := range perShard {
		if len(recs) == 0 {
			continue
		}
		g.Go(func() error {
			if err := r.rc.AcquireBackground(ctx); err != nil {
				return err
			}
			defer r.rc.ReleaseBackground()

			for _, rec := range recs {
				if err := r.pools[idx].applyRecord(ctx, rec); err != nil {
					return fmt.Errorf("shard %d: replay seq %d: %w", idx, rec.Seq, err)
				}
			}
			r.logger.Info("shard recovered", "shard", idx, "records", len(recs))
			return nil
		})
	}
	return g.Wait()
}
