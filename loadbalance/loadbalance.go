// Package loadbalance assigns each newly accepted connection to one of
// the server's N poller shards through an explicit, swappable
// strategy.
package loadbalance

// Balancer picks a shard index in [0, n) for a connection identified
// by its remote address, used once at accept time.
type Balancer interface {
	Pick(addr string, n int) int
}
