package hub

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type noopConsumer struct{}

func (noopConsumer) Consume(data []byte) []byte { return nil }

type replyConsumer struct{ reply []byte }

func (r replyConsumer) Consume(data []byte) []byte { return r.reply }

type capturingWriter struct {
	buf bytes.Buffer
}

func (w *capturingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func TestBroadcastDeliversToRegisteredViewer(t *testing.T) {
	h := New(noopConsumer{}, nil, nil)
	id, drain := h.Register()
	defer h.Unregister(id)

	h.Broadcast([]byte("hello"))

	chunks, ok := drain()
	if !ok {
		t.Fatal("drain reported closed before any data was pushed")
	}
	var got bytes.Buffer
	for _, c := range chunks {
		got.Write(c)
	}
	if got.String() != "hello" {
		t.Fatalf("got %q, want hello", got.String())
	}
}

func TestBroadcastPreservesByteOrderAcrossChunks(t *testing.T) {
	h := New(noopConsumer{}, nil, nil)
	id, drain := h.Register()
	defer h.Unregister(id)

	h.Broadcast([]byte("one "))
	h.Broadcast([]byte("two "))
	h.Broadcast([]byte("three"))

	var got bytes.Buffer
	deadline := time.After(2 * time.Second)
	for got.Len() < len("one two three") {
		select {
		case <-deadline:
			t.Fatalf("timed out, got %q so far", got.String())
		default:
		}
		chunks, ok := drain()
		if !ok {
			break
		}
		for _, c := range chunks {
			got.Write(c)
		}
	}
	if got.String() != "one two three" {
		t.Fatalf("got %q, want \"one two three\"", got.String())
	}
}

func TestRegisterNamedEmbedsNameInID(t *testing.T) {
	h := New(noopConsumer{}, nil, nil)
	id, _ := h.RegisterNamed("alice")
	defer h.Unregister(id)
	if !strings.HasPrefix(id, "alice-") {
		t.Fatalf("id = %q, want an alice- prefix", id)
	}
	id2, _ := h.RegisterNamed("alice")
	defer h.Unregister(id2)
	if id == id2 {
		t.Fatal("two sessions under the same name must get distinct ids")
	}
}

func TestUnregisterClosesDrain(t *testing.T) {
	h := New(noopConsumer{}, nil, nil)
	id, drain := h.Register()
	h.Unregister(id)

	_, ok := drain()
	if ok {
		t.Fatal("expected drain to report closed after Unregister")
	}
}

func TestBroadcastWritesReplyToPTY(t *testing.T) {
	w := &capturingWriter{}
	h := New(replyConsumer{reply: []byte("\x1b[0n")}, w, nil)
	h.Broadcast([]byte("\x1b[5n"))
	if w.buf.String() != "\x1b[0n" {
		t.Fatalf("pty writer got %q, want the DSR reply", w.buf.String())
	}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	h := New(noopConsumer{}, nil, nil)
	id, drain := h.Register()
	defer h.Unregister(id)

	big := bytes.Repeat([]byte{'A'}, maxQueueBytes/2)
	h.Broadcast(big)
	h.Broadcast(big)
	h.Broadcast(big) // pushes total past the cap; oldest chunk must be dropped

	chunks, ok := drain()
	if !ok {
		t.Fatal("drain reported closed unexpectedly")
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total > maxQueueBytes {
		t.Fatalf("queue exceeded cap: %d bytes queued, cap is %d", total, maxQueueBytes)
	}
	if total == 0 {
		t.Fatal("expected at least the most recent chunk to survive the overflow")
	}
}

func TestMultipleViewersEachGetTheirOwnCopy(t *testing.T) {
	h := New(noopConsumer{}, nil, nil)
	id1, drain1 := h.Register()
	id2, drain2 := h.Register()
	defer h.Unregister(id1)
	defer h.Unregister(id2)

	h.Broadcast([]byte("shared"))

	c1, _ := drain1()
	c2, _ := drain2()
	if len(c1) != 1 || string(c1[0]) != "shared" {
		t.Fatalf("viewer 1 got %v, want [shared]", c1)
	}
	if len(c2) != 1 || string(c2[0]) != "shared" {
		t.Fatalf("viewer 2 got %v, want [shared]", c2)
	}
}
