package pagecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagecache/disk"
	"github.com/hupe1980/pagecache/resource"
	"github.com/hupe1980/pagecache/wal"
)

func TestRecoverRestoresFlushedPages(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "pages.db")
	walPath := filepath.Join(dir, "pages.wal")
	ctx := context.Background()

	dm, err := disk.NewFileManager(dbPath)
	require.NoError(t, err)
	lm, err := wal.Open(walPath)
	require.NoError(t, err)

	r, err := New(2, 4, dm, lm)
	require.NoError(t, err)

	ids := make([]PageID, 0, 4)
	for i := range 4 {
		page, err := r.NewPage(ctx)
		require.NoError(t, err)
		page.Data()[0] = byte(0xA0 + i)
		ids = append(ids, page.ID())
		require.True(t, r.UnpinPage(page.ID(), true))
	}
	require.NoError(t, r.FlushAllPages(ctx))

	// Crash: no Close, no checkpoint. The data file is lost entirely; the
	// log alone must bring the flushed pages back.
	require.NoError(t, dm.Close())
	require.NoError(t, os.Truncate(dbPath, 0))

	dm, err = disk.NewFileManager(dbPath)
	require.NoError(t, err)
	lm, err = wal.Open(walPath)
	require.NoError(t, err)

	r, err = New(2, 4, dm, lm)
	require.NoError(t, err)
	require.NoError(t, r.Recover(ctx))

	seen := make(map[byte]bool)
	for _, id := range ids {
		page, err := r.FetchPage(ctx, id)
		require.NoError(t, err, "page %d", id)
		seen[page.Data()[0]] = true
		require.True(t, r.UnpinPage(id, false))
	}
	for i := range 4 {
		assert.True(t, seen[byte(0xA0+i)], "payload %#x recovered", 0xA0+i)
	}

	// The allocators resumed past the replayed ids: fresh pages do not
	// collide with recovered ones.
	page, err := r.NewPage(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, page.ID())
	require.True(t, r.UnpinPage(page.ID(), false))

	require.NoError(t, r.Close())
	require.NoError(t, dm.Close())
}

func TestRecoverHonorsDeallocations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dm, err := disk.NewFileManager(filepath.Join(dir, "pages.db"))
	require.NoError(t, err)
	lm, err := wal.Open(filepath.Join(dir, "pages.wal"))
	require.NoError(t, err)

	r, err := New(2, 2, dm, lm)
	require.NoError(t, err)

	page, err := r.NewPage(ctx)
	require.NoError(t, err)
	id := page.ID()
	require.True(t, r.UnpinPage(id, false))
	require.NoError(t, r.DeletePage(ctx, id))

	// Crash and recover on a fresh router.
	lm2, err := wal.Open(filepath.Join(dir, "pages.wal"))
	require.NoError(t, err)
	r2, err := New(2, 2, dm, lm2)
	require.NoError(t, err)
	require.NoError(t, r2.Recover(ctx))

	_, err = r2.FetchPage(ctx, id)
	require.ErrorIs(t, err, ErrPageNotFound, "deallocated page stays gone after recovery")
}

func TestRecoverWithBoundedBackgroundWork(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dm, err := disk.NewFileManager(filepath.Join(dir, "pages.db"))
	require.NoError(t, err)
	lm, err := wal.Open(filepath.Join(dir, "pages.wal"), wal.WithSyncOnAppend(false))
	require.NoError(t, err)

	rc := resource.NewController(resource.Config{MaxBackgroundWriters: 1})
	r, err := New(4, 4, dm, lm, WithResourceController(rc))
	require.NoError(t, err)

	for range 8 {
		page, err := r.NewPage(ctx)
		require.NoError(t, err)
		require.True(t, r.UnpinPage(page.ID(), true))
	}
	require.NoError(t, r.FlushAllPages(ctx))

	lm2, err := wal.Open(filepath.Join(dir, "pages.wal"))
	require.NoError(t, err)
	r2, err := New(4, 4, dm, lm2, WithResourceController(rc))
	require.NoError(t, err)
	require.NoError(t, r2.Recover(ctx), "replay works with a single background slot")
}

func TestRecoverRequiresPools(t *testing.T) {
	r, _ := newStubRouter(t, 2)
	require.Error(t, r.Recover(context.Background()))
}
