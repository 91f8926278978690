package loadbalance

import "github.com/twmb/murmur3"

// HashBalancer hashes the remote address so repeated connections from
// the same peer land on the same shard, which keeps per-peer ordering
// assumptions a Service might make stable across reconnects.
type HashBalancer struct{}

func NewHashBalancer() *HashBalancer {
	return &HashBalancer{}
}

func (h *HashBalancer) Pick(addr string, n int) int {
	if n <= 0 {
		return 0
	}
	sum := murmur3.Sum32([]byte(addr))
	return int(sum % uint32(n))
}
