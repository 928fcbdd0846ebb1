package worker

import "sync/atomic"

// ActiveCounter counts workers currently executing a conversion.
// It is observability only and never gates admission.
type ActiveCounter struct {
	n    atomic.Int64
	peak atomic.Int64
}

// Inc marks the start of a conversion and returns the new count.
func (c *ActiveCounter) Inc() int64 {
	v := c.n.Add(1)
	for {
		p := c.peak.Load()
		if v <= p || c.peak.CompareAndSwap(p, v) {
			return v
		}
	}
}

// Dec marks the end of a conversion and returns the new count.
func (c *ActiveCounter) Dec() int64 {
	return c.n.Add(-1)
}

// Load returns the number of conversions in flight.
func (c *ActiveCounter) Load() int64 {
	return c.n.Load()
}

// Peak is the highest value Load has ever returned.
func (c *ActiveCounter) Peak() int64 {
	return c.peak.Load()
}
