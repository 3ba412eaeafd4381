// Package timesync relates the monotonic clock hook records are stamped with
// to wall-clock time.
//
// Hook timestamps count nanoseconds on CLOCK_MONOTONIC. The converter records
// the wall-clock instant that corresponds to monotonic zero once at startup
// and adds record timestamps to it.
package timesync
