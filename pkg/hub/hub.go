// Package hub implements the fan-out hub: it owns the PTY-reader loop,
// feeds bytes to the parser, writes parser replies (DSR/DA) back to
// the PTY, and broadcasts the raw byte stream to every registered
// viewer queue. Queues are bounded with drop-oldest overflow.
package hub

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

// maxQueueBytes bounds a single viewer's pending byte queue; on
// overflow the oldest bytes are dropped rather than back-pressuring the
// PTY reader and stalling every other viewer.
const maxQueueBytes = 1 << 20 // 1 MiB

// Consumer is implemented by the parser: it mutates the cell buffer and
// may return a reply destined for the PTY.
type Consumer interface {
	Consume(data []byte) []byte
}

// viewer is a single connected client's outbound byte queue.
type viewer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	size   int
	closed bool
}

func newViewer() *viewer {
	v := &viewer{}
	v.cond = sync.NewCond(&v.mu)
	return v
}

func (v *viewer) push(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	v.chunks = append(v.chunks, cp)
	v.size += len(cp)
	for v.size > maxQueueBytes && len(v.chunks) > 1 {
		dropped := v.chunks[0]
		v.chunks = v.chunks[1:]
		v.size -= len(dropped)
	}
	v.cond.Broadcast()
}

// drain blocks until at least one chunk is queued or the viewer is
// closed, then returns and clears all queued chunks.
func (v *viewer) drain() ([][]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for len(v.chunks) == 0 && !v.closed {
		v.cond.Wait()
	}
	if v.closed && len(v.chunks) == 0 {
		return nil, false
	}
	out := v.chunks
	v.chunks = nil
	v.size = 0
	return out, true
}

func (v *viewer) close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	v.cond.Broadcast()
}

// PTYWriter is the narrow write side of the PTY, used to send DSR/DA
// replies back to the child.
type PTYWriter interface {
	Write(p []byte) (int, error)
}

// Hub owns the registered viewer set and the broadcast loop.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*viewer

	consumer Consumer
	ptyOut   PTYWriter
	log      *termlog.Logger
}

func New(consumer Consumer, ptyOut PTYWriter, log *termlog.Logger) *Hub {
	if log == nil {
		log = termlog.Discard()
	}
	return &Hub{
		clients:  make(map[string]*viewer),
		consumer: consumer,
		ptyOut:   ptyOut,
		log:      log,
	}
}

// Register creates an anonymous viewer queue and returns its id and a
// drain function the viewer's transmit loop should call in a tight
// loop.
func (h *Hub) Register() (id string, drain func() ([][]byte, bool)) {
	return h.RegisterNamed("viewer")
}

// RegisterNamed creates a viewer queue whose id carries the given name
// (e.g. an authenticated SSH username), suffixed with a random
// component so concurrent sessions under the same name stay distinct.
func (h *Hub) RegisterNamed(name string) (id string, drain func() ([][]byte, bool)) {
	v := newViewer()
	id = name + "-" + uuid.NewString()
	h.mu.Lock()
	h.clients[id] = v
	h.mu.Unlock()
	return id, v.drain
}

// Unregister removes and closes a viewer's queue.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	v, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		v.close()
	}
}

// Broadcast feeds chunk through the consumer (which may mutate the
// cell buffer and return a PTY reply), writes any reply back to the
// PTY, then pushes the raw chunk onto every registered viewer's queue.
// This is the hub's single entry point, called once per PTY read by
// the PTY reader goroutine; byte order observed here is preserved into
// every viewer's queue and into the parser.
func (h *Hub) Broadcast(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	reply := h.consumer.Consume(chunk)
	if len(reply) > 0 && h.ptyOut != nil {
		if _, err := h.ptyOut.Write(reply); err != nil {
			h.log.Warnf("hub: writing reply to PTY: %v", err)
		}
	}

	h.mu.Lock()
	viewers := make([]*viewer, 0, len(h.clients))
	for _, v := range h.clients {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		v.push(chunk)
	}
}

// Run reads from r in a loop, calling Broadcast for each chunk, until r
// returns an error (typically the child exiting) or stop is closed.
func (h *Hub) Run(r io.Reader, stop <-chan struct{}) error {
	buf := make([]byte, 8192)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Broadcast(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}
