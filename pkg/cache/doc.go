// Package cache provides a generic, thread-safe LRU cache with optional
// time-based expiry.
//
// The subscription resolver uses it to hold plan and combination snapshots so
// repeated lifecycle operations do not reload reference data on every call:
//
//	plans := cache.NewLRUCache[string, subscription.Plan](256, cache.WithTTL(5*time.Minute))
//	plans.Put("pro", plan)
//
//	if p, ok := plans.Get("pro"); ok {
//		// fresh enough to use
//	}
//
// Entries are evicted least-recently-used first once capacity is exceeded.
// Expired entries are dropped lazily on read. Get, Put and Remove are O(1).
package cache
