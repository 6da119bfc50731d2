// Package history keeps the recent accepted face regions and supplies a
// fallback region when a frame yields no usable detection.
package history

// Capacity is the number of accepted regions retained.
const Capacity = 100

// Policy is a fixed-capacity FIFO of accepted regions plus the recovery rule
// consulted when detection comes back empty.
//
// Policy is not safe for concurrent use; the pipeline serializes access.
type Policy struct {
	width  int
	height int

	ring  [Capacity]Region
	start int
	count int
}

// New creates an empty policy for a width x height frame.
func New(width, height int) *Policy {
	return &Policy{width: width, height: height}
}

// Record appends r, evicting the oldest region once Capacity is reached.
func (p *Policy) Record(r Region) {
	if p.count < Capacity {
		p.ring[(p.start+p.count)%Capacity] = r
		p.count++
		return
	}
	p.ring[p.start] = r
	p.start = (p.start + 1) % Capacity
}

// Recover returns the most recently recorded region, or the full frame on a
// cold start.
func (p *Policy) Recover() Region {
	if p.count == 0 {
		return FullFrame(p.width, p.height)
	}
	return p.ring[(p.start+p.count-1)%Capacity]
}

// Len returns the number of retained regions.
func (p *Policy) Len() int {
	return p.count
}

// Regions returns a copy of the retained regions, oldest first.
func (p *Policy) Regions() []Region {
	out := make([]Region, p.count)
	for i := 0; i < p.count; i++ {
		out[i] = p.ring[(p.start+i)%Capacity]
	}
	return out
}

// Reset drops every retained region. Only controller teardown calls it.
func (p *Policy) Reset() {
	p.start = 0
	p.count = 0
}
