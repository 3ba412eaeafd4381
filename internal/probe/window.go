package probe

import "time"

// Window measures the wall time between successive collections so that
// aggregated totals can be turned into per-second rates.
type Window struct {
	now  func() time.Time
	last time.Time
}

// NewWindow starts a window at the current time.
func NewWindow() *Window {
	return NewWindowAt(time.Now)
}

// NewWindowAt starts a window using now as its clock.
func NewWindowAt(now func() time.Time) *Window {
	return &Window{now: now, last: now()}
}

// Advance closes the current window, opens the next one and returns the
// length of the closed window in seconds. It never returns less than a
// millisecond.
func (w *Window) Advance() float64 {
	t := w.now()
	d := t.Sub(w.last)
	w.last = t
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d.Seconds()
}

// PerSecond divides v by the window length.
func PerSecond(v uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(v) / seconds
}
