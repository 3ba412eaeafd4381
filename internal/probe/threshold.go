package probe

import "time"

// Threshold gates emission of individual events. Both comparisons are strict.
type Threshold struct {
	DelayFloor time.Duration
	UsageFloor uint64 // percent
}

// DelayExceeded reports whether elapsedNs is above the delay floor.
func (t Threshold) DelayExceeded(elapsedNs uint64) bool {
	floor := t.DelayFloor
	if floor < 0 {
		floor = 0
	}
	return elapsedNs > uint64(floor)
}

// UsageExceeded reports whether percent is above the usage floor.
func (t Threshold) UsageExceeded(percent uint64) bool {
	return percent > t.UsageFloor
}

// UsagePercent returns filled*100/capacity using integer division. It returns
// false when capacity is zero.
func UsagePercent(filled, capacity uint64) (uint64, bool) {
	if capacity == 0 {
		return 0, false
	}
	return filled * 100 / capacity, true
}
