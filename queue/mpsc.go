// Package queue implements the server's notification pipeline: a
// lock-free-push, single-consumer-pop linked-list queue (a
// standard Michael-Scott MPSC queue) carrying the three message kinds
// the poller goroutines hand off to the dedicated message-queue thread:
// NewConnection, MessageReceived, ConnectionClosed.
package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/JCOutMan/raptor/buffer"
	"github.com/JCOutMan/raptor/connid"
)

// Kind identifies the payload carried by a Message.
type Kind int

const (
	KindNewConnection Kind = iota
	KindMessageReceived
	KindConnectionClosed
)

// Message is the payload pushed by a poller goroutine and popped by the
// message-queue thread. Addr is populated for KindNewConnection, Data
// for KindMessageReceived; both are nil/empty otherwise.
type Message struct {
	Kind Kind
	Conn connid.ID
	Addr string
	Data buffer.Slice
}

type node struct {
	next unsafe.Pointer // *node
	msg  *Message
}

// MPSC is a Michael-Scott lock-free queue: any number of goroutines may
// Push concurrently; Pop must only ever be called from one goroutine at
// a time (the message-queue thread).
type MPSC struct {
	head unsafe.Pointer // *node
	tail unsafe.Pointer // *node
	size int64
}

// New returns an empty queue, pre-seeded with a dummy sentinel node as
// the classic Michael-Scott construction requires.
func New() *MPSC {
	sentinel := unsafe.Pointer(&node{})
	return &MPSC{head: sentinel, tail: sentinel}
}

// Push enqueues msg. Safe for concurrent use by multiple producers.
func (q *MPSC) Push(msg *Message) {
	n := &node{msg: msg}
	for {
		tail := load(&q.tail)
		next := load(&tail.next)
		if tail == load(&q.tail) {
			if next == nil {
				if cas(&tail.next, next, n) {
					cas(&q.tail, tail, n)
					atomic.AddInt64(&q.size, 1)
					return
				}
			} else {
				// tail has fallen behind; help advance it
				cas(&q.tail, tail, next)
			}
		}
	}
}

// Pop removes and returns the oldest message, or (nil, false) when the
// queue was observed empty. Must only be called from a single consumer
// goroutine.
func (q *MPSC) Pop() (*Message, bool) {
	for {
		head := load(&q.head)
		tail := load(&q.tail)
		next := load(&head.next)
		if head == load(&q.head) {
			if head == tail {
				if next == nil {
					return nil, false
				}
				// tail has fallen behind; help advance it
				cas(&q.tail, tail, next)
				continue
			}
			msg := next.msg
			if cas(&q.head, head, next) {
				atomic.AddInt64(&q.size, -1)
				return msg, true
			}
		}
	}
}

// Len returns an approximate count of queued messages, useful for
// logging/metrics only; it is not linearizable with concurrent Push.
func (q *MPSC) Len() int64 {
	return atomic.LoadInt64(&q.size)
}

// Drain pops every remaining message without dispatching, for use by
// Shutdown when it frees any nodes still queued at the time the
// dispatch goroutine stops.
func (q *MPSC) Drain() {
	for {
		if _, ok := q.Pop(); !ok {
			return
		}
	}
}

func load(p *unsafe.Pointer) *node {
	return (*node)(atomic.LoadPointer(p))
}

func cas(p *unsafe.Pointer, old, new *node) bool {
	return atomic.CompareAndSwapPointer(p, unsafe.Pointer(old), unsafe.Pointer(new))
}
