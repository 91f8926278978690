//go:build !linux

package poller

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/JCOutMan/raptor/buffer"
)

type recordingHandler struct {
	mu   sync.Mutex
	recv []int
	send []int
	errs []int
}

func (h *recordingHandler) OnRecvEvent(id int) {
	h.mu.Lock()
	h.recv = append(h.recv, id)
	h.mu.Unlock()
}
func (h *recordingHandler) OnSendEvent(id int) {
	h.mu.Lock()
	h.send = append(h.send, id)
	h.mu.Unlock()
}
func (h *recordingHandler) OnErrorEvent(id int) {
	h.mu.Lock()
	h.errs = append(h.errs, id)
	h.mu.Unlock()
}
func (h *recordingHandler) OnCheckingEvent() {}

func TestCompletionPollerDeliversData(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	p := NewCompletionPoller(h)
	go p.Run()
	defer p.Close()

	recv := buffer.NewSliceBuffer()
	send := buffer.NewSliceBuffer()
	var sendMu sync.Mutex
	p.Register(1, server, recv, send, &sendMu, false)

	go client.Write([]byte("ping"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		got := len(h.recv) > 0
		h.mu.Unlock()
		if got {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("OnRecvEvent never fired for piped write")
}
