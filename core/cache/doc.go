// Package cache provides the memo caches workers use for their
// deterministic computations.
//
// [LRU] bounds memory by entry count and supports per-entry TTL via
// [WithTTL]; expired entries are dropped lazily on access. [Nop] disables
// memoization. [NewTyped] wraps either behind a type-safe view:
//
//	lengths := cache.NewTyped[int](cache.NewLRU(cache.LRUOpts{Size: 4096}))
//	lengths.Put("hello", 5)
//	n, ok := lengths.Get("hello")
//
// [Cache.Clear] is what a worker's periodic eviction calls.
package cache
