package taskqueue

import (
	"runtime"

	"go.uber.org/atomic"
)

// SpinLock is a small CAS spinlock implementing sync.Locker, handed to
// sync.Cond by Queue so the common case of an uncontended lock never
// pays for a full mutex.
type SpinLock struct {
	held atomic.Bool
}

func NewSpinLock() *SpinLock {
	return &SpinLock{}
}

func (s *SpinLock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *SpinLock) Unlock() {
	s.held.Store(false)
}
