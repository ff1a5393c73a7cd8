// Package cache provides the three-level result cache.
//
// L1 is an in-process sharded LRU (MemoryTier). L2 and L3 are StoreTiers
// over byte stores: RedisStore for the shared tier and SQLiteStore for the
// durable tier, with MapStore for development. A Hierarchy reads top-down,
// promotes lower-level hits upward in the background, and writes bottom-up.
//
// Expired entries are retained for Policy.StaleGrace so the caller can fall
// back to them when every backend fails.
package cache
