// Package procmeta resolves actor names for records that arrive without one.
//
// Manager provides command-query separation:
//
// Queries (read-only):
//   - Get(pid) - Retrieve cached metadata
//   - GetError(pid) - Retrieve the collection error
//
// Commands (mutations):
//   - Set(pid, metadata) - Store metadata
//   - Delete(pid) - Forget a PID
//   - Name(pid) - Get-or-load the task name from /proc
//
// The cache is bounded; when full it is cleared rather than grown.
// Thread-safe with RWMutex for concurrent access.
package procmeta
