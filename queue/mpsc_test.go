package queue

import (
	"sync"
	"testing"

	"github.com/JCOutMan/raptor/connid"
)

func TestPushPopFIFOPerProducer(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Push(&Message{Kind: KindMessageReceived, Conn: connid.ID(i)})
	}
	for i := 0; i < 5; i++ {
		m, ok := q.Pop()
		if !ok {
			t.Fatalf("expected message %d", i)
		}
		if m.Conn != connid.ID(i) {
			t.Fatalf("out of order: got %v want %v", m.Conn, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestConcurrentPushSingleConsumer(t *testing.T) {
	q := New()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(&Message{Kind: KindMessageReceived, Conn: connid.ID(p)})
			}
		}(p)
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		count++
	}
	if count != producers*perProducer {
		t.Fatalf("got %d messages, want %d", count, producers*perProducer)
	}
}

func TestDrain(t *testing.T) {
	q := New()
	for i := 0; i < 10; i++ {
		q.Push(&Message{Kind: KindConnectionClosed})
	}
	q.Drain()
	if _, ok := q.Pop(); ok {
		t.Fatalf("queue should be empty after Drain")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}
