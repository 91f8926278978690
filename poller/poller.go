// Package poller unifies Raptor's two event-loop styles behind one
// contract: a readiness-based epoll loop on Linux (poller_linux.go) and
// a completion-style emulation built from goroutines and read/write
// deadlines everywhere else (poller_other.go). Neither variant owns a
// connection table itself; both notify an external Handler, and the
// connection table lives in package server.
package poller

// Handler receives readiness/completion notifications for fds this
// Poller was asked to watch. Implementations must not block: a Poller
// invokes these synchronously from its own loop goroutine (readiness
// build) or from a connection's read/write goroutines (completion
// build).
type Handler interface {
	// OnRecvEvent fires when fd has data to read (readiness) or has
	// just completed a read (completion).
	OnRecvEvent(fd int)
	// OnSendEvent fires when fd is writable (readiness) or has just
	// completed a queued write (completion).
	OnSendEvent(fd int)
	// OnErrorEvent fires on a terminal condition for fd: an error or
	// hang-up reported by epoll (readiness), or a read/write error
	// (completion). The Poller does not stop watching fd by itself;
	// the handler calls Remove.
	OnErrorEvent(fd int)
	// OnCheckingEvent fires once per loop tick regardless of fd
	// activity, driving the server's idle-timeout sweep.
	OnCheckingEvent()
}

// Poller is the readiness-build shard contract (poller_linux.go),
// addressing connections by raw fd exactly as epoll requires. The
// completion build (poller_other.go) drives the same Handler callbacks
// but registers net.Conn values instead of fds — net.Conn, not a raw
// descriptor, is the natural unit once there is no readiness API to
// register against: the asymmetry lives in the OS primitive itself, not
// in this package's design. server/ is correspondingly build-tag split
// (server_linux.go / server_other.go) so each half only ever talks to
// the Poller shape its platform actually has.
//
// A Poller instance is single-owner: all Add/Mod/Remove calls not made
// from its own loop goroutine must go through Wake.
type Poller interface {
	// AddRead starts watching fd for read-readiness only (used for
	// listening sockets, and for connections with nothing queued to
	// send).
	AddRead(fd int) error
	// AddReadWrite starts watching fd for both read- and
	// write-readiness (used while a connect is in flight, or a send
	// is pending).
	AddReadWrite(fd int) error
	// ModRead narrows an already-registered fd back to read-only
	// interest once its send buffer has drained.
	ModRead(fd int) error
	// ModReadWrite widens an already-registered fd to read+write
	// interest once a send has data queued.
	ModReadWrite(fd int) error
	// Remove stops watching fd entirely.
	Remove(fd int) error
	// Wake enqueues task to run on the Poller's own loop goroutine,
	// the only safe place to call Add/Mod/Remove from another
	// goroutine. Returns true iff the task was accepted for a future
	// run; a false return means the Poller has already begun Close or
	// (readiness build) its wake signal could not be written.
	Wake(task func()) bool
	// Run blocks, driving the loop until Close is called.
	Run()
	// Close stops the loop and releases its OS resources.
	Close() error
}
