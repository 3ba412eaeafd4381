// Package eventprocessor routes HookRecords to the probes subscribed to their
// hook.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│   ring buffer / replay file             │
//	└─────────────────┬───────────────────────┘
//	                  │  eventstream
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← routing
//	│   - Routes by Hook                      │
//	│   - Drops unsubscribed hooks            │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ Duration / Stages ──→ correlate.Store
//	          │                          - start and end of one operation
//	          │
//	          ├──→ Counters / TimeInState ──→ aggregate.Store
//	          │                          - per unit accumulators
//	          │
//	          └──→ emitting probes ──→ emit.Channel
//	                                     - drained by the reporter
//
// The route table is built once from the probes' Hooks and never changes, so
// HandleRecord may be called from several goroutines at once.
package eventprocessor
