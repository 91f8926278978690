package loadbalance

import "testing"

func TestRoundRobinCycles(t *testing.T) {
	rr := NewRoundRobin()
	n := 4
	seen := make(map[int]int)
	for i := 0; i < 8; i++ {
		seen[rr.Pick("", n)]++
	}
	for shard, count := range seen {
		if count != 2 {
			t.Fatalf("shard %d got %d picks, want 2", shard, count)
		}
	}
}

func TestHashBalancerStablePerAddr(t *testing.T) {
	hb := NewHashBalancer()
	first := hb.Pick("10.0.0.1:4000", 8)
	for i := 0; i < 10; i++ {
		if got := hb.Pick("10.0.0.1:4000", 8); got != first {
			t.Fatalf("Pick for same addr changed: %d vs %d", got, first)
		}
	}
}

func TestHashBalancerInRange(t *testing.T) {
	hb := NewHashBalancer()
	for _, addr := range []string{"a", "b", "c", "d", "e"} {
		shard := hb.Pick(addr, 4)
		if shard < 0 || shard >= 4 {
			t.Fatalf("Pick(%q) = %d, out of range [0,4)", addr, shard)
		}
	}
}
