package ptysup

import (
	"os"
	"testing"

	"github.com/folkertvanheusden/termcamng/pkg/termerr"
)

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", 25: "25", 80: "80", 12345: "12345"}
	for n, want := range cases {
		if got := itoa(n); got != want {
			t.Errorf("itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestStartWithEmptyCommandFails(t *testing.T) {
	s := New(Config{}, nil)
	_, err := s.Start()
	if err == nil {
		t.Fatal("expected an error spawning an empty command")
	}
	if !termerr.Is(err, termerr.ErrPTYSpawn) {
		t.Fatalf("expected ErrPTYSpawn, got %v", err)
	}
}

func TestReadWriteBeforeStartReturnErrClosed(t *testing.T) {
	s := New(Config{}, nil)
	if _, err := s.Read(make([]byte, 1)); err != os.ErrClosed {
		t.Fatalf("Read before Start: got %v, want os.ErrClosed", err)
	}
	if _, err := s.Write([]byte("x")); err != os.ErrClosed {
		t.Fatalf("Write before Start: got %v, want os.ErrClosed", err)
	}
}

func TestResizeBeforeStartIsNoop(t *testing.T) {
	s := New(Config{}, nil)
	if err := s.Resize(80, 24); err != nil {
		t.Fatalf("Resize before Start should be a no-op, got %v", err)
	}
}

func TestStopBeforeStartDoesNotPanic(t *testing.T) {
	s := New(Config{}, nil)
	s.Stop()
}
