package loadbalance

import (
	"sync/atomic"
)

// StickyFailoverBalancer keeps the active endpoint index in an atomic.
//
// Failed uses compare-and-swap from the index the attempt actually used, so when several
// concurrent calls observe the same dead endpoint only one of them advances the index and
// the others see it already moved. A stale report about an endpoint that is no longer
// active changes nothing.
type StickyFailoverBalancer struct {
	size   int
	active atomic.Int64
}

// NewStickyFailoverBalancer creates a balancer over size ranked endpoints, starting at the primary.
func NewStickyFailoverBalancer(size int) *StickyFailoverBalancer {
	return &StickyFailoverBalancer{size: size}
}

func (b *StickyFailoverBalancer) Pick() int {
	return int(b.active.Load())
}

func (b *StickyFailoverBalancer) Failed(index int) (int, bool) {
	if index+1 >= b.size {
		return int(b.active.Load()), false
	}
	if b.active.CompareAndSwap(int64(index), int64(index+1)) {
		return index + 1, true
	}
	return int(b.active.Load()), false
}

func (b *StickyFailoverBalancer) Reset() {
	b.active.Store(0)
}

func (b *StickyFailoverBalancer) Name() string {
	return "StickyFailover"
}
