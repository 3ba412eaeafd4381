// Package emit provides a bounded, lossy, multi-producer single-consumer
// channel for per-event records.
//
// Push copies the record into a preallocated slot and never blocks. When all
// slots are taken the record is dropped and counted; the consumer is expected
// to drain often enough that this stays rare. Records pushed by one producer
// are drained in that producer's order.
package emit
