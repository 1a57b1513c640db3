package pagecache

import "time"

// MetricsObserver defines the interface for observing buffer pool events.
type MetricsObserver interface {
	// OnFetch is called for every fetch, reporting whether it hit the pool.
	OnFetch(shard int, hit bool)

	// OnEvict is called when a frame is evicted to make room.
	OnEvict(shard int)

	// OnFlush is called when a page write-back completes.
	OnFlush(shard int, duration time.Duration, err error)

	// OnAllocate is called when a shard attempts to mint a new page.
	OnAllocate(shard int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnFetch(shard int, hit bool)                            {}
func (NoopMetricsObserver) OnEvict(shard int)                                      {}
func (NoopMetricsObserver) OnFlush(shard int, duration time.Duration, err error)   {}
func (NoopMetricsObserver) OnAllocate(shard int, err error)                        {}
