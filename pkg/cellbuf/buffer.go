// Package cellbuf implements the fixed character-cell grid a terminal
// emulator renders into: the Cell type, the Buffer that holds w*h of
// them plus the cursor and its attached style, and the tab-stop vectors.
package cellbuf

import "sync"

// Attr is a packed bitset of SGR attributes.
type Attr uint16

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrInverse
	AttrUnderline
	AttrStrikethrough
	AttrBlink
	AttrItalic
)

// ColorKind distinguishes the three ways a Cell's foreground/background
// can be specified.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota
	ColorAnsi              // Index is a 0..255 palette index
	ColorRGB               // R,G,B carry a 24-bit truecolor value
)

// Color is either "use the default", a palette index, or a truecolor
// triple.
type Color struct {
	Kind    ColorKind
	Index   uint8
	R, G, B uint8
}

var DefaultColor = Color{Kind: ColorDefault}

// Cell is a single grid position: a codepoint plus the style it was
// written with.
type Cell struct {
	Codepoint rune
	Fg        Color
	Bg        Color
	Attr      Attr
}

// Style is the cursor-attached pen: the fg/bg/attr state applied to the
// next emitted Cell. It lives on the cursor, not the buffer.
type Style struct {
	Fg   Color
	Bg   Color
	Attr Attr
}

var DefaultStyle = Style{Fg: DefaultColor, Bg: DefaultColor}

// Snapshot is an immutable copy of buffer state, safe to hand to a
// rasterizer without holding the buffer's lock.
type Snapshot struct {
	Width, Height int
	CursorX       int
	CursorY       int
	GlobalInvert  bool
	Cells         [][]Cell
}

// Buffer is the fixed w*h grid plus cursor, style, and tab stops. All
// mutating operations assume the caller holds Lock (the parser is the
// sole writer; rasterizers take RLock via Snapshot()).
type Buffer struct {
	mu sync.RWMutex

	width, height int
	cells         [][]Cell

	cursorX, cursorY int
	style            Style

	hTabStops []bool
	vTabStops []bool

	wrapEnabled  bool
	globalInvert bool

	lastChar rune // for CSI 'b' (repeat)
}

// New allocates a width*height buffer, every cell defaulted to space
// with the default style, tab stops at every 8th column and every row.
func New(width, height int) *Buffer {
	b := &Buffer{
		width:       width,
		height:      height,
		wrapEnabled: true,
	}
	b.cells = make([][]Cell, height)
	for y := range b.cells {
		b.cells[y] = makeBlankRow(width)
	}
	b.hTabStops = make([]bool, width)
	for x := 0; x < width; x += 8 {
		b.hTabStops[x] = true
	}
	b.vTabStops = make([]bool, height)
	for y := range b.vTabStops {
		b.vTabStops[y] = true
	}
	b.style = DefaultStyle
	return b
}

func makeBlankRow(width int) []Cell {
	row := make([]Cell, width)
	for x := range row {
		row[x] = Cell{Codepoint: ' ', Fg: DefaultColor, Bg: DefaultColor}
	}
	return row
}

func blankCellWithStyle(s Style) Cell {
	return Cell{Codepoint: ' ', Fg: s.Fg, Bg: s.Bg, Attr: s.Attr}
}

// Lock/Unlock/RLock/RUnlock expose the buffer's mutex directly so the
// parser (sole writer) and rasterizers (readers) share the same lock;
// the render gate's own mutex is separate and is taken by the caller
// of Snapshot, never by Buffer itself.
func (b *Buffer) Lock()    { b.mu.Lock() }
func (b *Buffer) Unlock()  { b.mu.Unlock() }
func (b *Buffer) RLock()   { b.mu.RLock() }
func (b *Buffer) RUnlock() { b.mu.RUnlock() }

func (b *Buffer) Width() int  { return b.width }
func (b *Buffer) Height() int { return b.height }

func (b *Buffer) CursorX() int { return b.cursorX }
func (b *Buffer) CursorY() int { return b.cursorY }

func (b *Buffer) SetCursor(x, y int) {
	b.cursorX = clamp(x, 0, b.width-1)
	b.cursorY = clamp(y, 0, b.height-1)
}

func (b *Buffer) Style() Style           { return b.style }
func (b *Buffer) SetStyle(s Style)       { b.style = s }
func (b *Buffer) GlobalInvert() bool     { return b.globalInvert }
func (b *Buffer) SetGlobalInvert(v bool) { b.globalInvert = v }
func (b *Buffer) WrapEnabled() bool      { return b.wrapEnabled }
func (b *Buffer) SetWrapEnabled(v bool)  { b.wrapEnabled = v }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Emit places r at the cursor using the current style, honoring wrap
// mode, and advances the cursor. When it wraps onto the next row it runs
// ScrollCheck itself; other row advances go through AdvanceRow.
func (b *Buffer) Emit(r rune) {
	if b.cursorX >= b.width {
		if b.wrapEnabled {
			b.cursorX = 0
			b.cursorY++
			b.ScrollCheck()
		} else {
			b.cursorX = b.width - 1
		}
	}
	b.cells[b.cursorY][b.cursorX] = Cell{Codepoint: r, Fg: b.style.Fg, Bg: b.style.Bg, Attr: b.style.Attr}
	b.lastChar = r
	// With wrap disabled, once pinned at the last column the cursor stays
	// there permanently (every further character overwrites it) rather
	// than oscillating back to width and tripping the overflow branch
	// again on the next call.
	if b.wrapEnabled || b.cursorX < b.width-1 {
		b.cursorX++
	}
}

// LastChar returns the most recently emitted codepoint, for CSI 'b'.
func (b *Buffer) LastChar() rune { return b.lastChar }

// ScrollCheck scrolls the buffer up by one line if the cursor has
// advanced past the last row, clamping it back onto the last row.
func (b *Buffer) ScrollCheck() {
	if b.cursorY >= b.height {
		b.DeleteLine(0)
		b.cursorY = b.height - 1
	}
}

// AdvanceRow moves the cursor down n rows without SetCursor's clamp,
// then runs ScrollCheck, so an advance past the last row scrolls the
// buffer up instead of silently pinning the cursor at the last row.
// Used by C0 LF, ESC D (index) and ESC E (next line); SetCursor's
// unconditional y-clamp would otherwise hide the overflow ScrollCheck
// is supposed to detect.
func (b *Buffer) AdvanceRow(n int) {
	b.cursorY += n
	b.ScrollCheck()
}

// EraseCell resets a single cell to space with the current style.
func (b *Buffer) EraseCell(x, y int) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	b.cells[y][x] = blankCellWithStyle(b.style)
}

// EraseLine blanks an entire row with the current style.
func (b *Buffer) EraseLine(y int) {
	if y < 0 || y >= b.height {
		return
	}
	for x := 0; x < b.width; x++ {
		b.cells[y][x] = blankCellWithStyle(b.style)
	}
}

func (b *Buffer) EraseLineFromCursor(y, fromX int) {
	if y < 0 || y >= b.height {
		return
	}
	for x := fromX; x < b.width; x++ {
		b.cells[y][x] = blankCellWithStyle(b.style)
	}
}

func (b *Buffer) EraseLineToCursor(y, toX int) {
	if y < 0 || y >= b.height {
		return
	}
	for x := 0; x <= toX && x < b.width; x++ {
		b.cells[y][x] = blankCellWithStyle(b.style)
	}
}

// DeleteLine shifts rows y+1..h-1 up by one and blanks the last row.
func (b *Buffer) DeleteLine(y int) {
	if y < 0 || y >= b.height {
		return
	}
	copy(b.cells[y:], b.cells[y+1:])
	b.cells[b.height-1] = blankRowWithStyle(b.width, b.style)
}

// InsertLine shifts rows y..h-2 down by one and blanks row y.
func (b *Buffer) InsertLine(y int) {
	if y < 0 || y >= b.height {
		return
	}
	copy(b.cells[y+1:], b.cells[y:b.height-1])
	b.cells[y] = blankRowWithStyle(b.width, b.style)
}

func blankRowWithStyle(width int, s Style) []Cell {
	row := make([]Cell, width)
	for x := range row {
		row[x] = blankCellWithStyle(s)
	}
	return row
}

// InsertCharacter shifts n blank cells in at the cursor; the rightmost
// n cells of the row fall off the end.
func (b *Buffer) InsertCharacter(n int) {
	y := b.cursorY
	row := b.cells[y]
	x := b.cursorX
	if x >= b.width {
		return
	}
	if n > b.width-x {
		n = b.width - x
	}
	copy(row[x+n:], row[x:b.width-n])
	for i := 0; i < n; i++ {
		row[x+i] = blankCellWithStyle(b.style)
	}
}

// DeleteCharacter removes n cells at the cursor, shifting the remainder
// left and blanking the row end.
func (b *Buffer) DeleteCharacter(n int) {
	y := b.cursorY
	row := b.cells[y]
	x := b.cursorX
	if x >= b.width {
		return
	}
	if n > b.width-x {
		n = b.width - x
	}
	copy(row[x:], row[x+n:])
	for i := b.width - n; i < b.width; i++ {
		row[i] = blankCellWithStyle(b.style)
	}
}

// EraseCharacters blanks n cells starting at the cursor without moving
// it (CSI X).
func (b *Buffer) EraseCharacters(n int) {
	y := b.cursorY
	row := b.cells[y]
	x := b.cursorX
	end := x + n
	if end > b.width {
		end = b.width
	}
	for i := x; i < end; i++ {
		row[i] = blankCellWithStyle(b.style)
	}
}

// ClearScreen fills every cell with the current style's blank.
func (b *Buffer) ClearScreen() {
	for y := 0; y < b.height; y++ {
		b.EraseLine(y)
	}
}

func (b *Buffer) ClearFromCursor() {
	b.EraseLineFromCursor(b.cursorY, b.cursorX)
	for y := b.cursorY + 1; y < b.height; y++ {
		b.EraseLine(y)
	}
}

func (b *Buffer) ClearToCursor() {
	b.EraseLineToCursor(b.cursorY, b.cursorX)
	for y := 0; y < b.cursorY; y++ {
		b.EraseLine(y)
	}
}

// SetHTab / SetVTab / ClearHTab / ClearVTab / ClearAllHTabs / ClearAllVTabs
// implement CSI 'H'/'J'/'g' tab-stop manipulation.
func (b *Buffer) SetHTab(x int)   { b.setTab(b.hTabStops, x, true) }
func (b *Buffer) SetVTab(y int)   { b.setTab(b.vTabStops, y, true) }
func (b *Buffer) ClearHTab(x int) { b.setTab(b.hTabStops, x, false) }
func (b *Buffer) ClearVTab(y int) { b.setTab(b.vTabStops, y, false) }

func (b *Buffer) ClearAllHTabs() {
	for i := range b.hTabStops {
		b.hTabStops[i] = false
	}
}

func (b *Buffer) ClearAllVTabs() {
	for i := range b.vTabStops {
		b.vTabStops[i] = false
	}
}

func (b *Buffer) setTab(stops []bool, i int, v bool) {
	if i >= 0 && i < len(stops) {
		stops[i] = v
	}
}

// NextHTab returns the next horizontal tab stop at or after x+1, capped
// at width.
func (b *Buffer) NextHTab(x int) int {
	for i := x + 1; i < b.width; i++ {
		if b.hTabStops[i] {
			return i
		}
	}
	return b.width
}

// NextVTab returns the next vertical tab stop at or after y+1, capped at
// height-1.
func (b *Buffer) NextVTab(y int) int {
	for i := y + 1; i < b.height; i++ {
		if b.vTabStops[i] {
			return i
		}
	}
	return b.height - 1
}

// Resize reallocates the grid to new dimensions, copying the overlap
// and clamping the cursor, and resets tab stops to the default pattern.
func (b *Buffer) Resize(width, height int) {
	newCells := make([][]Cell, height)
	for y := 0; y < height; y++ {
		newCells[y] = makeBlankRow(width)
		if y < b.height {
			copy(newCells[y], b.cells[y])
		}
	}
	b.cells = newCells
	b.width = width
	b.height = height
	b.cursorX = clamp(b.cursorX, 0, width-1)
	b.cursorY = clamp(b.cursorY, 0, height-1)

	b.hTabStops = make([]bool, width)
	for x := 0; x < width; x += 8 {
		b.hTabStops[x] = true
	}
	b.vTabStops = make([]bool, height)
	for y := range b.vTabStops {
		b.vTabStops[y] = true
	}
}

// CellAt returns a copy of the cell at (x,y); it does not lock — callers
// iterate under RLock via Snapshot or their own explicit lock.
func (b *Buffer) CellAt(x, y int) Cell {
	return b.cells[y][x]
}

// Snapshot takes RLock, deep-copies the grid and cursor, and returns an
// immutable Snapshot safe to hand to a rasterizer outside the lock.
func (b *Buffer) Snapshot() *Snapshot {
	b.RLock()
	defer b.RUnlock()
	cells := make([][]Cell, b.height)
	for y := range cells {
		cells[y] = make([]Cell, b.width)
		copy(cells[y], b.cells[y])
	}
	return &Snapshot{
		Width:        b.width,
		Height:       b.height,
		CursorX:      b.cursorX,
		CursorY:      b.cursorY,
		GlobalInvert: b.globalInvert,
		Cells:        cells,
	}
}
