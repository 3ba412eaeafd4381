// Package aggregate accumulates completed operations into per-execution-unit
// buckets and merges them only when read.
//
// Writers touch only the unit they run on. Updates are atomic adds on the
// bucket fields, so a reader never observes a half-applied delta and writers
// never take a lock. Each unit keeps a bounded number of buckets; a delta that
// would create a bucket beyond that bound is dropped and counted.
//
// Two read paths exist:
//   - MergeAll sums the current buckets of every unit without changing them.
//   - Collect swaps every unit to an empty generation, waits for writers still
//     inside the old generation to leave, then sums it. A delta is returned by
//     exactly one Collect call; it may land in the next one if it races with
//     the swap. Only the reader waits, writers never do.
package aggregate
