// Package parser implements the ANSI/VT byte-stream state machine:
// C0/Fe/CSI/OSC/UTF-8 decoding that mutates a cellbuf.Buffer and
// optionally produces a reply to write back to the PTY (DSR/DA).
package parser

import (
	"github.com/folkertvanheusden/termcamng/pkg/cellbuf"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

type state int

const (
	stateGround state = iota
	stateEscape
	stateCSI
	stateDCS
	stateOSC
	stateR1Paren
	stateR2Paren
)

// Parser is the sole writer of a cellbuf.Buffer. Consume is not
// safe for concurrent use; the fan-out hub serializes calls to it from
// a single PTY-reader goroutine.
type Parser struct {
	buf *cellbuf.Buffer
	log *termlog.Logger

	st state

	params    []int
	haveParam bool
	private   byte // '?' if a private-mode prefix was seen

	oscBuf []byte

	utf8Remaining int
	utf8Accum     rune

	onUpdate func() // called after any mutation, for the render gate
}

// New constructs a Parser writing into buf. onUpdate, if non-nil, is
// invoked once per consume() call that mutated the buffer, so the
// caller can bump the render gate's latest_update.
func New(buf *cellbuf.Buffer, log *termlog.Logger, onUpdate func()) *Parser {
	if log == nil {
		log = termlog.Discard()
	}
	return &Parser{buf: buf, log: log, onUpdate: onUpdate, st: stateGround}
}

// Consume feeds bytes through the state machine. It returns a non-nil
// reply slice when a DSR/DA response must be written back to the PTY.
// Unknown and malformed sequences are logged and dropped without
// mutating the buffer; Consume never panics on input.
// The buffer's writer lock is held for the whole call: the parser is
// the sole writer, rasterizers snapshot under the read side.
func (p *Parser) Consume(data []byte) []byte {
	p.buf.Lock()
	reply, mutated := p.consumeLocked(data)
	p.buf.Unlock()

	if mutated && p.onUpdate != nil {
		p.onUpdate()
	}
	return reply
}

func (p *Parser) consumeLocked(data []byte) ([]byte, bool) {
	var reply []byte
	mutated := false

	i := 0
	for i < len(data) {
		b := data[i]

		if b == 0x1b {
			p.utf8Remaining = 0
			p.st = stateEscape
			i++
			continue
		}

		switch p.st {
		case stateGround:
			if p.utf8Remaining > 0 {
				if b&0xc0 == 0x80 {
					p.utf8Accum = p.utf8Accum<<6 | rune(b&0x3f)
					p.utf8Remaining--
					if p.utf8Remaining == 0 && p.utf8Accum <= 0x10ffff {
						p.buf.Emit(p.utf8Accum)
						mutated = true
					}
					i++
					continue
				}
				// stray non-continuation byte: abandon the partial rune
				// and reprocess it from the ground state.
				p.utf8Remaining = 0
				continue
			}
			if b < 0x80 {
				if b < 0x20 {
					p.handleC0(b)
					mutated = true
					i++
					continue
				}
				p.buf.Emit(rune(b))
				mutated = true
				i++
				continue
			}
			switch {
			case b&0xe0 == 0xc0:
				p.utf8Accum = rune(b & 0x1f)
				p.utf8Remaining = 1
			case b&0xf0 == 0xe0:
				p.utf8Accum = rune(b & 0x0f)
				p.utf8Remaining = 2
			case b&0xf8 == 0xf0:
				p.utf8Accum = rune(b & 0x07)
				p.utf8Remaining = 3
			default:
				// invalid UTF-8 lead byte, dropped
			}
			i++

		case stateEscape:
			i++
			p.handleEscapeByte(b)

		case stateCSI:
			i++
			if done, r := p.handleCSIByte(b); done {
				if r != nil {
					reply = r
				}
				mutated = true
				p.st = stateGround
			}

		case stateOSC:
			// ST (ESC \) is handled by the ESC short-circuit above; BEL
			// and any other C0 byte also terminate the string.
			i++
			if b == 0x07 || b < 0x20 {
				p.st = stateGround
				p.oscBuf = nil
				continue
			}
			p.oscBuf = append(p.oscBuf, b)

		case stateDCS:
			i++
			// DCS payload is discarded; only ST (ESC \\) terminates it,
			// handled via the global ESC short-circuit.

		case stateR1Paren, stateR2Paren:
			// a single byte selects the charset; termcamng does not
			// honor alternate character sets, so it is consumed and
			// ignored.
			i++
			p.st = stateGround

		default:
			i++
			p.st = stateGround
		}
	}

	return reply, mutated
}

func (p *Parser) handleC0(b byte) {
	switch b {
	case 0x0d: // CR
		p.buf.SetCursor(0, p.buf.CursorY())
	case 0x0a: // LF
		p.buf.AdvanceRow(1)
	case 0x08: // BS
		x, y := p.buf.CursorX(), p.buf.CursorY()
		if x > 0 {
			p.buf.SetCursor(x-1, y)
		} else if y > 0 {
			p.buf.SetCursor(0, y-1)
		}
	case 0x09: // HT
		p.buf.SetCursor(p.buf.NextHTab(p.buf.CursorX()), p.buf.CursorY())
	case 0x0b: // VT
		p.buf.SetCursor(p.buf.CursorX(), p.buf.NextVTab(p.buf.CursorY()))
	default:
		// other C0 bytes are ignored
	}
}

func (p *Parser) handleEscapeByte(b byte) {
	switch b {
	case '[':
		p.st = stateCSI
		p.params = p.params[:0]
		p.haveParam = false
		p.private = 0
	case ']':
		p.st = stateOSC
		p.oscBuf = p.oscBuf[:0]
	case 'P':
		p.st = stateDCS
	case '(':
		p.st = stateR1Paren
	case ')':
		p.st = stateR2Paren
	case 'D':
		p.buf.AdvanceRow(1)
		p.st = stateGround
	case 'E':
		p.buf.SetCursor(0, p.buf.CursorY())
		p.buf.AdvanceRow(1)
		p.st = stateGround
	case 'M':
		y := p.buf.CursorY()
		if y == 0 {
			p.buf.InsertLine(0)
		} else {
			p.buf.SetCursor(p.buf.CursorX(), y-1)
		}
		p.st = stateGround
	case 'H':
		p.buf.SetHTab(p.buf.CursorX())
		p.st = stateGround
	case 'J':
		p.buf.SetVTab(p.buf.CursorY())
		p.st = stateGround
	case '\\':
		p.st = stateGround
	default:
		p.log.Debugf("parser: unhandled escape byte %q", b)
		p.st = stateGround
	}
}

// handleCSIByte collects one CSI byte. When a final byte (0x40..0x7E)
// arrives it dispatches the opcode and returns (true, reply).
func (p *Parser) handleCSIByte(b byte) (bool, []byte) {
	switch {
	case b == '?':
		p.private = '?'
		return false, nil
	case b >= '0' && b <= '9':
		if !p.haveParam {
			p.params = append(p.params, 0)
			p.haveParam = true
		}
		last := len(p.params) - 1
		p.params[last] = p.params[last]*10 + int(b-'0')
		return false, nil
	case b == ';':
		// an empty parameter before the separator still occupies a slot
		if !p.haveParam {
			p.params = append(p.params, 0)
		}
		p.haveParam = false
		return false, nil
	case b >= 0x40 && b <= 0x7e:
		reply := p.dispatchCSI(b)
		return true, reply
	default:
		// intermediate byte (0x20..0x3f catch-all); ignored.
		return false, nil
	}
}

func (p *Parser) param(i, def int) int {
	if i >= len(p.params) || p.params[i] == 0 {
		return def
	}
	return p.params[i]
}

func (p *Parser) dispatchCSI(final byte) []byte {
	x, y := p.buf.CursorX(), p.buf.CursorY()
	w, h := p.buf.Width(), p.buf.Height()

	switch final {
	case 'A':
		p.buf.SetCursor(x, maxInt(y-p.param(0, 1), 0))
	case 'B':
		p.buf.SetCursor(x, minInt(y+p.param(0, 1), h-1))
	case 'C':
		p.buf.SetCursor(minInt(x+p.param(0, 1), w-1), y)
	case 'D':
		p.buf.SetCursor(maxInt(x-p.param(0, 1), 0), y)
	case 'd':
		p.buf.SetCursor(x, p.param(0, 1)-1)
	case 'E':
		p.buf.SetCursor(0, minInt(y+p.param(0, 1), h-1))
	case 'G':
		p.buf.SetCursor(p.param(0, 1)-1, y)
	case 'H', 'f':
		p.buf.SetCursor(p.param(1, 1)-1, p.param(0, 1)-1)
	case 'J':
		switch p.param(0, 0) {
		case 0:
			p.buf.ClearFromCursor()
		case 1:
			p.buf.ClearToCursor()
		case 2, 3:
			p.buf.ClearScreen()
			p.buf.SetCursor(0, 0)
		}
	case 'K':
		switch p.param(0, 0) {
		case 0:
			p.buf.EraseLineFromCursor(y, x)
		case 1:
			p.buf.EraseLineToCursor(y, x)
		case 2:
			p.buf.EraseLine(y)
		}
	case 'L':
		for i := 0; i < p.param(0, 1); i++ {
			p.buf.InsertLine(y)
		}
		p.buf.SetCursor(0, y)
	case 'M':
		for i := 0; i < p.param(0, 1); i++ {
			p.buf.DeleteLine(y)
		}
		p.buf.SetCursor(0, y)
	case 'P':
		p.buf.DeleteCharacter(p.param(0, 1))
	case '@':
		p.buf.InsertCharacter(p.param(0, 1))
	case 'X':
		p.buf.EraseCharacters(p.param(0, 1))
	case 'b':
		for i := 0; i < p.param(0, 1); i++ {
			p.buf.Emit(p.buf.LastChar())
		}
	case 'm':
		p.handleSGR()
	case 'n':
		switch p.param(0, 0) {
		case 5:
			return []byte("\x1b[0n")
		case 6:
			return []byte(cursorPositionReply(p.buf.CursorY()+1, p.buf.CursorX()+1))
		}
	case 'c':
		return []byte("\x1b[?1;0c")
	case 'h':
		p.handleModeSet(true)
	case 'l':
		p.handleModeSet(false)
	case 'g':
		switch p.param(0, 0) {
		case 0:
			p.buf.ClearHTab(x)
		case 1:
			p.buf.ClearVTab(y)
		case 3:
			p.buf.ClearAllHTabs()
		case 4:
			p.buf.ClearAllVTabs()
		case 5:
			p.buf.ClearAllHTabs()
			p.buf.ClearAllVTabs()
		}
	case 'Y':
		p.buf.SetCursor(x, p.buf.NextVTab(y))
	default:
		p.log.Debugf("parser: unhandled CSI final %q", final)
	}
	return nil
}

func (p *Parser) handleModeSet(set bool) {
	if p.private != '?' {
		return
	}
	switch p.param(0, 0) {
	case 7:
		p.buf.SetWrapEnabled(set)
	case 3:
		width := 80
		if set {
			width = 132
		}
		p.buf.Resize(width, p.buf.Height())
		p.buf.SetCursor(0, 0)
	case 5:
		p.buf.SetGlobalInvert(set)
	}
}

func cursorPositionReply(row, col int) string {
	return "\x1b[" + itoa(row) + ";" + itoa(col) + "R"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// handleSGR processes the full `;`-separated SGR parameter stream. A
// 2 or 5 only acts as a color-mode selector directly after a 38/48;
// anywhere else a 2 is plain DIM.
func (p *Parser) handleSGR() {
	style := p.buf.Style()
	if len(p.params) == 0 {
		p.params = []int{0}
	}

	i := 0
	for i < len(p.params) {
		n := p.params[i]
		switch {
		case n == 0:
			style = cellbuf.DefaultStyle
		case n == 1:
			style.Attr |= cellbuf.AttrBold
		case n == 22:
			style.Attr &^= cellbuf.AttrBold | cellbuf.AttrDim
		case n == 2:
			style.Attr |= cellbuf.AttrDim
		case n == 3:
			style.Attr |= cellbuf.AttrItalic
		case n == 23:
			style.Attr &^= cellbuf.AttrItalic
		case n == 4:
			style.Attr |= cellbuf.AttrUnderline
		case n == 24:
			style.Attr &^= cellbuf.AttrUnderline
		case n == 5:
			style.Attr |= cellbuf.AttrBlink
		case n == 25:
			style.Attr &^= cellbuf.AttrBlink
		case n == 6:
			style.Attr |= cellbuf.AttrBlink
		case n == 7:
			style.Attr |= cellbuf.AttrInverse
		case n == 27:
			style.Attr &^= cellbuf.AttrInverse
		case n == 9:
			style.Attr |= cellbuf.AttrStrikethrough
		case n == 29:
			style.Attr &^= cellbuf.AttrStrikethrough
		case n >= 30 && n <= 37:
			style.Fg = cellbuf.Color{Kind: cellbuf.ColorAnsi, Index: uint8(n - 30)}
		case n == 39:
			style.Fg = cellbuf.DefaultColor
		case n >= 90 && n <= 97:
			style.Fg = cellbuf.Color{Kind: cellbuf.ColorAnsi, Index: uint8(n-90) + 8}
			style.Attr |= cellbuf.AttrBold
		case n >= 40 && n <= 47:
			style.Bg = cellbuf.Color{Kind: cellbuf.ColorAnsi, Index: uint8(n - 40)}
		case n == 49:
			style.Bg = cellbuf.DefaultColor
		case n >= 100 && n <= 107:
			style.Bg = cellbuf.Color{Kind: cellbuf.ColorAnsi, Index: uint8(n-100) + 8}
		case n == 38 || n == 48:
			isFg := n == 38
			consumed := 1
			if i+1 < len(p.params) {
				switch p.params[i+1] {
				case 2:
					if i+4 < len(p.params) {
						c := cellbuf.Color{Kind: cellbuf.ColorRGB,
							R: uint8(p.params[i+2]), G: uint8(p.params[i+3]), B: uint8(p.params[i+4])}
						if isFg {
							style.Fg = c
						} else {
							style.Bg = c
						}
						consumed = 5
					}
				case 5:
					if i+2 < len(p.params) {
						c := cellbuf.Color{Kind: cellbuf.ColorAnsi, Index: uint8(p.params[i+2])}
						if isFg {
							style.Fg = c
						} else {
							style.Bg = c
						}
						consumed = 3
					}
				}
			}
			i += consumed
			continue
		}
		i++
	}
	p.buf.SetStyle(style)
}
