// Package pagecache provides a sharded buffer pool for disk-backed storage
// engines.
//
// The page-id space is partitioned across N independent cache shards so that
// pinning, replacement and disk I/O inside one shard never contend with
// traffic on another. The Router is the single entry point: operations on an
// existing page are routed deterministically (pageID mod N), while brand-new
// pages are allocated round-robin across shards via a rotating cursor.
//
// # Quick Start
//
//	dm, _ := disk.NewFileManager("data.db")
//	lm, _ := wal.Open("data.wal")
//	pc, _ := pagecache.New(4, 64, dm, lm)
//	defer pc.Close()
//
//	page, _ := pc.NewPage(ctx)
//	copy(page.Data(), payload)
//	pc.UnpinPage(page.ID(), true)
//
// # Concurrency
//
// The shard slice and the shard count are immutable after construction and
// read without locking. The allocation cursor is the only mutable router
// state; it is advanced under a mutex in a minimal critical section that is
// never held across a shard call. Everything else is serialized inside the
// owning shard.
package pagecache
