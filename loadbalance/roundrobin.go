package loadbalance

import "go.uber.org/atomic"

// RoundRobin cycles through shards in order, ignoring addr. Cheapest
// strategy when shards are otherwise interchangeable.
type RoundRobin struct {
	next atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (rr *RoundRobin) Pick(addr string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(rr.next.Inc() % uint64(n))
}
