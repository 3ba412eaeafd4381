// Package output exports emitted events to OpenTelemetry.
//
// Probes that emit individual events convert each drained event into a Span
// carrying monotonic start and end timestamps. OTELSink converts those to
// wall-clock time through timesync, adds user-defined attributes evaluated by
// the attributes package, and records the span with explicit timestamps.
//
// The sink does not pair or buffer anything: every Span it receives is
// already complete.
package output
