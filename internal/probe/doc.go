// Package probe builds the four recurring measurement patterns on top of the
// correlate, aggregate and emit primitives.
//
//   - Duration pairs a start with its end and yields the elapsed time (pattern A).
//   - Stages walks an operation through Initiated, Established and Complete,
//     dropping any transition that arrives out of order (pattern B).
//   - Counters adds to a small closed set of classified counters (pattern C).
//   - TimeInState attributes the time an actor spent in its last recorded
//     state when it is switched back in (pattern D).
//
// None of these return errors from their hot-path methods. Missing starts,
// failed operations and full tables all degrade to "nothing recorded".
//
// A Probe binds one or more patterns to concrete hook points; the probes
// subpackages provide the instances.
package probe
