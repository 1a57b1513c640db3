package pagecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagecache/disk"
	"github.com/hupe1980/pagecache/wal"
)

// stubShard records calls and returns canned results, for verifying that the
// router delegates without adding semantics of its own.
type stubShard struct {
	mu    sync.Mutex
	index int
	n     int

	calls []string

	fetchPage  *Page
	fetchErr   error
	unpinOK    bool
	flushErr   error
	deleteErr  error
	newPageErr error
	nextLocal  uint64

	flushAllErr   error
	flushAllCalls int
}

func (s *stubShard) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubShard) Fetch(ctx context.Context, id PageID) (*Page, error) {
	s.record(fmt.Sprintf("fetch(%d)", id))
	return s.fetchPage, s.fetchErr
}

func (s *stubShard) Unpin(id PageID, dirty bool) bool {
	s.record(fmt.Sprintf("unpin(%d,%t)", id, dirty))
	return s.unpinOK
}

func (s *stubShard) Flush(ctx context.Context, id PageID) error {
	s.record(fmt.Sprintf("flush(%d)", id))
	return s.flushErr
}

func (s *stubShard) NewPage(ctx context.Context) (*Page, error) {
	s.record("newpage")
	if s.newPageErr != nil {
		return nil, s.newPageErr
	}
	s.mu.Lock()
	id := PageID(s.nextLocal*uint64(s.n) + uint64(s.index))
	s.nextLocal++
	s.mu.Unlock()
	p := newPage()
	p.reset(id)
	return p, nil
}

func (s *stubShard) Delete(ctx context.Context, id PageID) error {
	s.record(fmt.Sprintf("delete(%d)", id))
	return s.deleteErr
}

func (s *stubShard) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	s.flushAllCalls++
	s.mu.Unlock()
	return s.flushAllErr
}

func (s *stubShard) Close() error { return nil }

func newStubRouter(t *testing.T, n int) (*Router, []*stubShard) {
	t.Helper()
	stubs := make([]*stubShard, n)
	shards := make([]Shard, n)
	for i := range stubs {
		stubs[i] = &stubShard{index: i, n: n, unpinOK: true}
		shards[i] = stubs[i]
	}
	r, err := NewFromShards(shards, 16)
	require.NoError(t, err)
	return r, stubs
}

func TestSelectShardDeterministic(t *testing.T) {
	r, _ := newStubRouter(t, 4)

	for id := PageID(0); id < 64; id++ {
		first := r.SelectShard(id)
		for range 5 {
			require.Same(t, first, r.SelectShard(id), "id %d", id)
		}
	}
}

func TestSelectShardCoverage(t *testing.T) {
	r, stubs := newStubRouter(t, 4)

	want := []int{0, 1, 2, 3, 0, 1, 2, 3}
	for id, shardIdx := range want {
		require.Same(t, Shard(stubs[shardIdx]), r.SelectShard(PageID(id)), "id %d", id)
	}
}

func TestTotalCapacity(t *testing.T) {
	shards := make([]Shard, 8)
	for i := range shards {
		shards[i] = &stubShard{index: i, n: 8}
	}
	r, err := NewFromShards(shards, 16)
	require.NoError(t, err)
	assert.Equal(t, 128, r.TotalCapacity())
	assert.Equal(t, 8, r.NumShards())
}

func TestDelegationTransparency(t *testing.T) {
	r, stubs := newStubRouter(t, 4)
	ctx := context.Background()

	sentinel := newPage()
	sentinel.reset(6)
	stubs[2].fetchPage = sentinel

	page, err := r.FetchPage(ctx, 6)
	require.NoError(t, err)
	assert.Same(t, sentinel, page, "the shard's return value passes through unchanged")
	assert.Equal(t, []string{"fetch(6)"}, stubs[2].calls)

	fetchErr := errors.New("shard fetch failed")
	stubs[1].fetchErr = fetchErr
	_, err = r.FetchPage(ctx, 5)
	assert.Same(t, fetchErr, err)

	assert.True(t, r.UnpinPage(6, true))
	stubs[2].unpinOK = false
	assert.False(t, r.UnpinPage(6, false))

	flushErr := errors.New("flush failed")
	stubs[3].flushErr = flushErr
	assert.Same(t, flushErr, r.FlushPage(ctx, 7))
	assert.NoError(t, r.FlushPage(ctx, 4))

	deleteErr := errors.New("delete failed")
	stubs[0].deleteErr = deleteErr
	assert.Same(t, deleteErr, r.DeletePage(ctx, 8))

	// No stub other than the owner saw any of these calls.
	assert.Empty(t, stubs[1].calls[1:], "shard 1 saw only its own fetch")
}

func TestNewPageRoundRobinCursor(t *testing.T) {
	r, stubs := newStubRouter(t, 4)
	ctx := context.Background()

	// N consecutive calls visit each shard exactly once as first probe,
	// in cursor order.
	for want := range 4 {
		page, err := r.NewPage(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, want, uint64(page.ID())%4, "call %d minted on shard %d", want, uint64(page.ID())%4)
	}
	for i, s := range stubs {
		assert.Equal(t, []string{"newpage"}, s.calls, "shard %d probed exactly once", i)
	}
}

func TestNewPageSkipsExhaustedShard(t *testing.T) {
	r, stubs := newStubRouter(t, 3)
	ctx := context.Background()

	stubs[0].newPageErr = ErrNoFreeFrame

	page, err := r.NewPage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, uint64(page.ID())%3, "allocation moved on to shard 1")
	assert.Equal(t, []string{"newpage"}, stubs[0].calls)
	assert.Equal(t, []string{"newpage"}, stubs[1].calls)
	assert.Empty(t, stubs[2].calls, "probing stops at the first success")
}

func TestNewPageExhaustionProbesAllShardsOnce(t *testing.T) {
	r, stubs := newStubRouter(t, 4)
	ctx := context.Background()

	for _, s := range stubs {
		s.newPageErr = ErrNoFreeFrame
	}

	_, err := r.NewPage(ctx)
	require.ErrorIs(t, err, ErrNoFreeFrame)
	for i, s := range stubs {
		assert.Equal(t, []string{"newpage"}, s.calls, "shard %d probed exactly once", i)
	}

	// The cursor advanced exactly once: the next call starts at shard 1.
	stubs[1].newPageErr = nil
	page, err := r.NewPage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, uint64(page.ID())%4)
	assert.Equal(t, []string{"newpage", "newpage"}, stubs[1].calls)
	assert.Equal(t, []string{"newpage"}, stubs[2].calls, "shard 1 succeeded before shard 2 was probed")
}

func TestFlushAllPagesReachesEveryShardDespiteFailure(t *testing.T) {
	r, stubs := newStubRouter(t, 4)
	ctx := context.Background()

	failure := errors.New("shard 1 io failure")
	stubs[1].flushAllErr = failure

	err := r.FlushAllPages(ctx)
	require.ErrorIs(t, err, failure)
	for i, s := range stubs {
		assert.Equal(t, 1, s.flushAllCalls, "shard %d flushed", i)
	}
}

func TestNewPageConcurrentFanOut(t *testing.T) {
	const n = 8
	r, stubs := newStubRouter(t, n)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.NewPage(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Concurrent callers received distinct cursor values, so each shard
	// got exactly one first-shot probe.
	for i, s := range stubs {
		assert.Equal(t, []string{"newpage"}, s.calls, "shard %d", i)
	}
}

func TestRouterEndToEnd(t *testing.T) {
	dir := t.TempDir()
	dm, err := disk.NewFileManager(filepath.Join(dir, "pages.db"))
	require.NoError(t, err)
	lm, err := wal.Open(filepath.Join(dir, "pages.wal"), wal.WithSyncOnAppend(false))
	require.NoError(t, err)

	r, err := New(4, 8, dm, lm)
	require.NoError(t, err)
	require.Equal(t, 32, r.TotalCapacity())

	ctx := context.Background()

	// Allocate across shards, write, unpin dirty.
	ids := make([]PageID, 0, 16)
	for i := range 16 {
		page, err := r.NewPage(ctx)
		require.NoError(t, err)
		page.Data()[0] = byte(i + 1)
		ids = append(ids, page.ID())
		require.True(t, r.UnpinPage(page.ID(), true))
	}

	require.NoError(t, r.FlushAllPages(ctx))

	// Every page reads back through its owning shard.
	for i, id := range ids {
		page, err := r.FetchPage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, byte(i+1), page.Data()[0], "page %d", id)
		require.True(t, r.UnpinPage(id, false))
	}

	// Fetch of a never-allocated id fails with not-found.
	_, err = r.FetchPage(ctx, 4096)
	require.ErrorIs(t, err, ErrPageNotFound)

	require.NoError(t, r.DeletePage(ctx, ids[0]))
	_, err = r.FetchPage(ctx, ids[0])
	require.ErrorIs(t, err, ErrPageNotFound)

	require.NoError(t, r.Close())
	require.NoError(t, dm.Close())
}
