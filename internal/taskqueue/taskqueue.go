// Package taskqueue is the cross-goroutine submission path into a
// single poller shard: any goroutine may enqueue a closure (fd
// registration, read/write interest changes, or closing the poller)
// that must run on the poller's own
// goroutine. It is a container/list + SpinLock + sync.Cond FIFO with a
// lazily-started single drain goroutine, carrying bare closures rather
// than typed work items since a poller shard needs exactly one drain
// loop, not a hash-routed pool of queues.
package taskqueue

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"
)

// Task is a unit of work queued onto a poller's owning goroutine.
type Task func()

// Queue is a SpinLock-guarded FIFO of Tasks, drained by a single lazily
// started goroutine, matching WorkerQueue.insert/pop/lazyloop.
type Queue struct {
	loopFlag atomic.Bool

	queue *list.List
	len   atomic.Int64
	lock  sync.Locker
	cond  *sync.Cond

	closed atomic.Bool
}

func New() *Queue {
	lock := NewSpinLock()
	return &Queue{
		queue: list.New(),
		lock:  lock,
		cond:  sync.NewCond(lock),
	}
}

// Push enqueues t and starts the drain goroutine on first use. Safe for
// concurrent use by any number of goroutines.
func (q *Queue) Push(t Task) {
	q.lazyloop()

	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed.Load() {
		return
	}
	q.queue.PushBack(t)
	q.len.Add(1)
	q.cond.Signal()
}

func (q *Queue) Len() int64 {
	return q.len.Load()
}

// PushOnly enqueues t without starting the self-driving drain
// goroutine, for an owner (such as a poller loop) that calls TryPop
// itself on its own goroutine instead.
func (q *Queue) PushOnly(t Task) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed.Load() {
		return
	}
	q.queue.PushBack(t)
	q.len.Add(1)
}

// TryPop removes and returns the oldest Task without blocking; ok is
// false if the queue was empty.
func (q *Queue) TryPop() (Task, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.queue.Len() == 0 {
		return nil, false
	}
	elem := q.queue.Front()
	q.queue.Remove(elem)
	q.len.Add(-1)
	return elem.Value.(Task), true
}

func (q *Queue) pop() (Task, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for q.queue.Len() == 0 {
		if q.closed.Load() {
			return nil, false
		}
		q.cond.Wait()
	}
	elem := q.queue.Front()
	q.queue.Remove(elem)
	q.len.Add(-1)
	return elem.Value.(Task), true
}

func (q *Queue) lazyloop() {
	if !q.loopFlag.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			t, ok := q.pop()
			if !ok {
				return
			}
			t()
		}
	}()
}

// Close stops the drain goroutine once the queue empties; any Push
// after Close is silently dropped, matching a shard that has begun
// shutdown.
func (q *Queue) Close() {
	q.lock.Lock()
	q.closed.Store(true)
	q.cond.Broadcast()
	q.lock.Unlock()
}
