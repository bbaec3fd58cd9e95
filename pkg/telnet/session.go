// Package telnet implements the interactive telnet viewer: option
// negotiation on connect, an initial full-screen replay, the
// smart/dumb viewer loop, and RFC 854/855 IAC filtering of inbound
// keystrokes.
package telnet

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/folkertvanheusden/termcamng/pkg/cellbuf"
	"github.com/folkertvanheusden/termcamng/pkg/hub"
	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

const (
	iac  = 0xFF
	sb   = 0xFA
	se   = 0xF0
	will = 0xFB
	wont = 0xFC
	do   = 0xFD
	dont = 0xFE

	optEcho       = 0x01
	optSuppressGA = 0x03
	optAuth       = 0x25
	optLinemode   = 0x22
	optNewEnv     = 0x27
	optTM         = 0x2D
)

// negotiation is sent once on every accepted connection.
var negotiation = []byte{
	iac, wont, optAuth,
	iac, will, optSuppressGA,
	iac, dont, optLinemode,
	iac, dont, optNewEnv,
	iac, will, optEcho,
	iac, dont, optEcho,
	iac, do, optTM,
}

// Options configures per-viewer behavior shared with the SSH session.
type Options struct {
	DumbTelnet        bool
	TelnetWorkarounds bool
	IgnoreKeypresses  bool
}

// Server accepts telnet connections on a listener.
type Server struct {
	buf    *cellbuf.Buffer
	hub    *hub.Hub
	gate   *rendergate.Gate
	ptyOut io.Writer
	opts   Options
	log    *termlog.Logger
}

func NewServer(buf *cellbuf.Buffer, h *hub.Hub, gate *rendergate.Gate, ptyOut io.Writer, opts Options, log *termlog.Logger) *Server {
	if log == nil {
		log = termlog.Discard()
	}
	return &Server{buf: buf, hub: h, gate: gate, ptyOut: ptyOut, opts: opts, log: log}
}

// Serve accepts connections on ln until it errors or stop is closed.
func (s *Server) Serve(ln net.Listener, stop <-chan struct{}) error {
	go func() {
		<-stop
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			return err
		}
		go s.handle(conn, stop)
	}
}

func (s *Server) handle(conn net.Conn, stop <-chan struct{}) {
	defer conn.Close()

	if _, err := conn.Write(negotiation); err != nil {
		return
	}
	if _, err := conn.Write(InitialScreen(s.buf)); err != nil {
		return
	}

	id, drain := s.hub.Register()
	defer s.hub.Unregister(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readLoop(conn)
	}()
	// closing the queue wakes smartLoop out of a blocked drain when the
	// peer disconnects or the process stops
	go func() {
		select {
		case <-done:
		case <-stop:
		}
		s.hub.Unregister(id)
	}()

	if s.opts.DumbTelnet {
		s.dumbLoop(conn, stop, done)
	} else {
		s.smartLoop(conn, drain, stop, done)
	}
}

func (s *Server) smartLoop(conn net.Conn, drain func() ([][]byte, bool), stop <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		default:
		}
		chunks, ok := drain()
		if !ok {
			return
		}
		for _, c := range chunks {
			if _, err := conn.Write(c); err != nil {
				return
			}
		}
	}
}

// dumbLoop re-sends a full screen snapshot on every render-gate wake,
// coalesced to at most one redraw per gate notification.
func (s *Server) dumbLoop(conn net.Conn, stop <-chan struct{}, done <-chan struct{}) {
	var afterTS int64
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		default:
		}
		newTS := s.gate.Render(afterTS, 500)
		if s.gate.Stopped() {
			return
		}
		if newTS == afterTS {
			continue
		}
		afterTS = newTS
		if _, err := conn.Write(InitialScreen(s.buf)); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	f := iacFilter{dropNulls: s.opts.TelnetWorkarounds}
	for {
		n, err := conn.Read(buf)
		if n > 0 && !s.opts.IgnoreKeypresses {
			out := f.filter(buf[:n])
			if len(out) > 0 && s.ptyOut != nil {
				s.ptyOut.Write(out)
			}
		}
		if err != nil {
			return
		}
	}
}

// iacFilter strips telnet protocol bytes from inbound keystrokes: an
// IAC begins a 2-byte skip, SB enters subnegotiation until SE. State
// spans reads so commands split across socket reads are still
// filtered.
type iacFilter struct {
	inSB      bool
	skip      int
	dropNulls bool
}

func (f *iacFilter) filter(in []byte) []byte {
	var out []byte
	for _, b := range in {
		if f.inSB {
			if b == se {
				f.inSB = false
			}
			continue
		}
		if f.skip > 0 {
			f.skip--
			if b == sb {
				f.inSB = true
				f.skip = 0
			}
			continue
		}
		if b == iac {
			f.skip = 2
			continue
		}
		if b == sb {
			f.inSB = true
			continue
		}
		if f.dropNulls && b == 0 {
			continue
		}
		out = append(out, b)
	}
	return out
}

// InitialScreen renders the byte sequence sent on connect and after
// every dumb-telnet wake: clear screen, then per-row cursor
// positioning and per-cell SGR+glyph, then a final cursor move.
func InitialScreen(buf *cellbuf.Buffer) []byte {
	snap := buf.Snapshot()
	var b strings.Builder
	b.WriteString("\x1b[2J")
	for y := 0; y < snap.Height; y++ {
		fmt.Fprintf(&b, "\x1b[%dH", y+1)
		for x := 0; x < snap.Width; x++ {
			cell := snap.Cells[y][x]
			fg, bg := sgrColorCodes(cell)
			fmt.Fprintf(&b, "\x1b[%d;%dm%c", fg, bg, orSpace(cell.Codepoint))
		}
	}
	fmt.Fprintf(&b, "\x1b[%d;%dH", snap.CursorY+1, snap.CursorX+1)
	return []byte(b.String())
}

func orSpace(r rune) rune {
	if r == 0 {
		return ' '
	}
	return r
}

func sgrColorCodes(cell cellbuf.Cell) (fg, bg int) {
	fg, bg = 39, 49
	if cell.Fg.Kind == cellbuf.ColorAnsi {
		if cell.Fg.Index < 8 {
			fg = 30 + int(cell.Fg.Index)
		} else if cell.Fg.Index < 16 {
			fg = 90 + int(cell.Fg.Index-8)
		}
	}
	if cell.Bg.Kind == cellbuf.ColorAnsi {
		if cell.Bg.Index < 8 {
			bg = 40 + int(cell.Bg.Index)
		} else if cell.Bg.Index < 16 {
			bg = 100 + int(cell.Bg.Index-8)
		}
	}
	return fg, bg
}
