// Package report periodically pulls tables from the active probes and prints
// them. Sources decide what a snapshot means for them; the reporter only
// renders, filters and watches drop counters.
package report
