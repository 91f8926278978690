package server

import (
	"container/list"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/JCOutMan/raptor/connid"
)

// slot pairs a connection with its own element in the table's timeout
// list, so refreshing or expiring a connection never needs to scan the
// list to find it.
type slot struct {
	conn     *Connection
	deadline *list.Element // element of table.timeouts, value is *timeoutEntry
}

type timeoutEntry struct {
	index    uint32
	deadline int64 // unix seconds
}

// table is the server's connection registry: an index-addressed slot
// array, a FIFO free-list of unused indices, and a deadline-ordered
// timeout list, all guarded by one mutex.
//
// The timeout structure is a plain container/list rather than a timing
// wheel: every live connection's deadline is "now + connectionTimeout"
// with connectionTimeout constant for the table's lifetime, so
// refreshing a connection's deadline always produces a value >= every
// deadline already in the list — appending at the tail keeps the list
// sorted with no bucketing machinery, giving the same O(1) add/remove/
// "walk from head, stop at first future deadline" sweep a timing wheel
// would, without needing one.
type table struct {
	mu sync.Mutex

	magic             uint16
	port              uint16
	maxConnections    int
	connectionTimeout int64

	slots     []slot
	freeList  *queue.Queue
	timeouts  *list.List // of *timeoutEntry, sorted ascending by deadline
}

func newTable(port uint16, maxConnections, reservedCapacity, connectionTimeout int) *table {
	t := &table{
		magic:             uint16(time.Now().Unix()),
		port:              port,
		maxConnections:    maxConnections,
		connectionTimeout: int64(connectionTimeout),
		freeList:          queue.New(),
		timeouts:          list.New(),
	}
	if reservedCapacity > maxConnections {
		reservedCapacity = maxConnections
	}
	t.grow(reservedCapacity)
	return t
}

func (t *table) grow(to int) {
	if to > t.maxConnections {
		to = t.maxConnections
	}
	for i := len(t.slots); i < to; i++ {
		t.slots = append(t.slots, slot{})
		t.freeList.Add(uint32(i))
	}
}

// checkConnectionID validates cid: rejects Invalid, rejects a magic
// mismatch, rejects an out-of-capacity index. It does NOT guarantee the
// slot currently holds a live connection — callers must still check
// that under the table lock before dereferencing.
func (t *table) checkConnectionID(cid connid.ID) (uint32, bool) {
	if !cid.Valid() {
		return 0, false
	}
	if cid.Magic() != t.magic {
		return 0, false
	}
	idx := cid.Index()
	if idx >= uint32(t.maxConnections) {
		return 0, false
	}
	return idx, true
}

// acquire pops a free index, growing the table if needed and capacity
// allows, returning ok=false if the server is at capacity.
func (t *table) acquire() (uint32, bool) {
	if t.freeList.Length() == 0 {
		if len(t.slots) >= t.maxConnections {
			return 0, false
		}
		newLen := len(t.slots) * 2
		if newLen == 0 {
			newLen = 1
		}
		t.grow(newLen)
		if t.freeList.Length() == 0 {
			return 0, false
		}
	}
	idx := t.freeList.Remove().(uint32)
	return idx, true
}

// bind stores conn at idx and inserts its first timeout entry, returning
// the id the caller should hand back to the connection.
func (t *table) bind(idx uint32, conn *Connection) connid.ID {
	now := time.Now().Unix()
	entry := &timeoutEntry{index: idx, deadline: now + t.connectionTimeout}
	elem := t.timeouts.PushBack(entry)
	t.slots[idx] = slot{conn: conn, deadline: elem}
	return conn.ID()
}

// get returns the slot's connection, or nil if the slot's connection
// pointer is nil — every call path must nil-check here before using the
// result.
func (t *table) get(idx uint32) *Connection {
	if idx >= uint32(len(t.slots)) {
		return nil
	}
	return t.slots[idx].conn
}

// refresh moves idx's timeout entry to the tail with a new deadline,
// called after every successful I/O event.
func (t *table) refresh(idx uint32) {
	s := &t.slots[idx]
	if s.conn == nil || s.deadline == nil {
		return
	}
	t.timeouts.Remove(s.deadline)
	entry := &timeoutEntry{index: idx, deadline: time.Now().Unix() + t.connectionTimeout}
	s.deadline = t.timeouts.PushBack(entry)
}

// release destroys the slot at idx: clears the connection pointer,
// erases its timeout entry, and returns idx to the free-list.
func (t *table) release(idx uint32) {
	s := &t.slots[idx]
	if s.deadline != nil {
		t.timeouts.Remove(s.deadline)
	}
	t.slots[idx] = slot{}
	t.freeList.Add(idx)
}

// sweepExpired walks the timeout list from the head, collecting every
// index whose deadline has elapsed, stopping at the first future
// deadline.
func (t *table) sweepExpired(now int64) []uint32 {
	var expired []uint32
	for e := t.timeouts.Front(); e != nil; {
		entry := e.Value.(*timeoutEntry)
		if entry.deadline > now {
			break
		}
		next := e.Next()
		expired = append(expired, entry.index)
		e = next
	}
	return expired
}

func (t *table) forceCloseAll(fn func(idx uint32, c *Connection)) {
	for i := range t.slots {
		if t.slots[i].conn != nil {
			fn(uint32(i), t.slots[i].conn)
		}
	}
	t.slots = nil
	t.timeouts.Init()
	t.freeList = queue.New()
}
