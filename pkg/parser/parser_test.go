package parser

import (
	"testing"

	"github.com/folkertvanheusden/termcamng/pkg/cellbuf"
)

func newTestParser(w, h int) (*Parser, *cellbuf.Buffer) {
	buf := cellbuf.New(w, h)
	return New(buf, nil, nil), buf
}

func rowString(b *cellbuf.Buffer, y int) string {
	out := make([]rune, b.Width())
	for x := 0; x < b.Width(); x++ {
		out[x] = b.CellAt(x, y).Codepoint
	}
	return string(out)
}

func TestScenarioHello(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("Hello"))
	if got := rowString(buf, 0); got[:5] != "Hello" {
		t.Fatalf("row0 = %q, want prefix Hello", got)
	}
	if buf.CursorX() != 5 || buf.CursorY() != 0 {
		t.Fatalf("cursor at (%d,%d), want (5,0)", buf.CursorX(), buf.CursorY())
	}
}

// X lands at (0,0); ESC[H homes the cursor (already at (1,0) after X,
// so this exercises the general case); Y then overwrites whatever is
// at the homed position.
func TestScenarioCSIHome(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("X\x1b[HY"))
	if buf.CellAt(0, 0).Codepoint != 'Y' {
		t.Fatalf("(0,0) = %q, want Y", buf.CellAt(0, 0).Codepoint)
	}
	if buf.CursorX() != 1 || buf.CursorY() != 0 {
		t.Fatalf("cursor at (%d,%d), want (1,0)", buf.CursorX(), buf.CursorY())
	}
}

// Wrap enabled (default).
func TestScenarioWrapEnabled(t *testing.T) {
	p, buf := newTestParser(5, 2)
	p.Consume([]byte("ABCDEFG"))
	if got := rowString(buf, 0); got != "ABCDE" {
		t.Fatalf("row0 = %q, want ABCDE", got)
	}
	if got := rowString(buf, 1)[:2]; got != "FG" {
		t.Fatalf("row1 prefix = %q, want FG", got)
	}
	if buf.CursorX() != 2 || buf.CursorY() != 1 {
		t.Fatalf("cursor at (%d,%d), want (2,1)", buf.CursorX(), buf.CursorY())
	}
}

// Wrap disabled via CSI ?7l.
func TestScenarioWrapDisabled(t *testing.T) {
	p, buf := newTestParser(5, 2)
	p.Consume([]byte("\x1b[?7l"))
	p.Consume([]byte("ABCDEFG"))
	if got := rowString(buf, 0); got != "ABCDG" {
		t.Fatalf("row0 = %q, want ABCDG", got)
	}
	if buf.CursorX() != 4 || buf.CursorY() != 0 {
		t.Fatalf("cursor at (%d,%d), want (4,0)", buf.CursorX(), buf.CursorY())
	}
}

func TestScenarioEraseDisplay(t *testing.T) {
	p, buf := newTestParser(4, 3)
	p.Consume([]byte("####\r\n####\r\n####"))
	p.Consume([]byte("\x1b[2J"))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			if c := buf.CellAt(x, y).Codepoint; c != ' ' {
				t.Fatalf("cell (%d,%d) = %q, want space", x, y, c)
			}
		}
	}
	if buf.CursorX() != 0 || buf.CursorY() != 0 {
		t.Fatalf("cursor at (%d,%d), want (0,0)", buf.CursorX(), buf.CursorY())
	}
}

func TestScenarioTruecolorSGR(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("\x1b[38;2;10;20;30mA"))
	cell := buf.CellAt(0, 0)
	if cell.Fg.Kind != cellbuf.ColorRGB || cell.Fg.R != 10 || cell.Fg.G != 20 || cell.Fg.B != 30 {
		t.Fatalf("fg = %+v, want rgb(10,20,30)", cell.Fg)
	}
}

func TestScenarioDSR6(t *testing.T) {
	p, buf := newTestParser(10, 10)
	buf.SetCursor(3, 7)
	reply := p.Consume([]byte("\x1b[6n"))
	if string(reply) != "\x1b[8;4R" {
		t.Fatalf("reply = %q, want \\x1b[8;4R", reply)
	}
	if buf.CursorX() != 3 || buf.CursorY() != 7 {
		t.Fatalf("DSR must not move the cursor, got (%d,%d)", buf.CursorX(), buf.CursorY())
	}
}

func TestDSR5AndDA(t *testing.T) {
	p, _ := newTestParser(10, 10)
	if reply := p.Consume([]byte("\x1b[5n")); string(reply) != "\x1b[0n" {
		t.Fatalf("DSR5 reply = %q, want \\x1b[0n", reply)
	}
	if reply := p.Consume([]byte("\x1b[c")); string(reply) != "\x1b[?1;0c" {
		t.Fatalf("DA reply = %q, want \\x1b[?1;0c", reply)
	}
}

// SGR 38;5;n palette index form.
func TestSGRPaletteIndex(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("\x1b[48;5;200mA"))
	cell := buf.CellAt(0, 0)
	if cell.Bg.Kind != cellbuf.ColorAnsi || cell.Bg.Index != 200 {
		t.Fatalf("bg = %+v, want ansi index 200", cell.Bg)
	}
}

// The is_fg latch between 38/48 and a following 2/5 marker must survive a
// misplaced parameter — a bare "2" with no preceding 38/48 decays to DIM.
func TestSGRBareDimDecay(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("\x1b[2mA"))
	if buf.CellAt(0, 0).Attr&cellbuf.AttrDim == 0 {
		t.Fatalf("expected AttrDim set from bare SGR 2")
	}
}

func TestSGRResetAndBoldBright(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("\x1b[1;91mA"))
	cell := buf.CellAt(0, 0)
	if cell.Attr&cellbuf.AttrBold == 0 {
		t.Fatalf("expected bold set")
	}
	if cell.Fg.Kind != cellbuf.ColorAnsi || cell.Fg.Index != 9 {
		t.Fatalf("fg = %+v, want bright red index 9", cell.Fg)
	}
	p.Consume([]byte("\x1b[0mB"))
	if buf.CellAt(1, 0).Attr != 0 {
		t.Fatalf("SGR 0 should reset attributes, got %v", buf.CellAt(1, 0).Attr)
	}
}

// The cursor stays within bounds after every complete Consume.
func TestCursorStaysInBounds(t *testing.T) {
	p, buf := newTestParser(4, 3)
	inputs := []string{"ABCDEFGHIJ", "\r\n\r\n\r\n\r\n", "\x1b[99;99H", "\x1b[A\x1b[B\x1b[C\x1b[D"}
	for _, in := range inputs {
		p.Consume([]byte(in))
		if buf.CursorX() < 0 || buf.CursorX() > buf.Width()-1 {
			t.Fatalf("cursor x=%d out of bounds after %q", buf.CursorX(), in)
		}
		if buf.CursorY() < 0 || buf.CursorY() > buf.Height()-1 {
			t.Fatalf("cursor y=%d out of bounds after %q", buf.CursorY(), in)
		}
	}
}

// LF at the bottom row must scroll, not silently clamp (regression test
// for AdvanceRow bypassing SetCursor's y-clamp).
func TestLineFeedScrollsAtBottomRow(t *testing.T) {
	p, buf := newTestParser(3, 2)
	p.Consume([]byte("AAA\r\nBBB\n"))
	if got := rowString(buf, 0); got != "BBB" {
		t.Fatalf("row0 after scroll = %q, want BBB", got)
	}
	if buf.CursorY() != 1 {
		t.Fatalf("cursor y = %d, want 1 (pinned at last row)", buf.CursorY())
	}
}

func TestUTF8Decode(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("caf\xc3\xa9"))
	if got := []rune(rowString(buf, 0))[:4]; string(got) != "café" {
		t.Fatalf("row0 prefix = %q, want café", string(got))
	}
}

// A multi-byte rune split across two Consume calls must still decode —
// PTY reads can cut a sequence anywhere.
func TestUTF8DecodeSplitAcrossConsumeCalls(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte{0xe2, 0x82})
	p.Consume([]byte{0xac}) // remaining byte of €
	if got := buf.CellAt(0, 0).Codepoint; got != '€' {
		t.Fatalf("(0,0) = %q, want €", got)
	}
}

func TestOnUpdateCalledOnMutation(t *testing.T) {
	buf := cellbuf.New(5, 2)
	calls := 0
	p := New(buf, nil, func() { calls++ })
	p.Consume([]byte("hi"))
	if calls != 1 {
		t.Fatalf("onUpdate called %d times, want 1 per Consume call that mutated", calls)
	}
}

func TestTabStops(t *testing.T) {
	p, buf := newTestParser(20, 2)
	p.Consume([]byte("\t"))
	if buf.CursorX() != 8 {
		t.Fatalf("HT should land on column 8, got %d", buf.CursorX())
	}
}

func TestRepeatLastCharacter(t *testing.T) {
	p, buf := newTestParser(10, 2)
	p.Consume([]byte("A\x1b[3b"))
	if got := rowString(buf, 0)[:4]; got != "AAAA" {
		t.Fatalf("row0 prefix = %q, want AAAA", got)
	}
}
