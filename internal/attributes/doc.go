// Package attributes evaluates user-defined span attributes.
//
// Each custom attribute is an expr-lang expression run against the fields of
// an emitted event (pid, comm, delay_us, ...). A map result expands into one
// attribute per key, named "<attribute>.<key>" with the key sanitized.
package attributes
