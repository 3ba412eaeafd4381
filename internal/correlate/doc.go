// Package correlate pairs the start and end of in-flight operations by identity.
//
// A Store is a fixed-capacity, set-associative table. Keys hash to a set of
// four slots and each set has its own lock, so a begin and an end for
// different operations never contend on a shared lock.
//
// Policies:
//   - Begin for a live key replaces its pending value (most recent start wins).
//   - Begin into a full set overwrites the oldest slot of that set.
//   - End and Discard for an unknown key are no-ops.
//   - Entries never expire. An operation whose end never fires stays resident
//     until its slot is reused.
//
// Keys derived from kernel object addresses can be reused after the object is
// freed; a stale entry may then pair with an unrelated operation. The store
// does not try to detect this.
package correlate
