package glyph

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/folkertvanheusden/termcamng/pkg/cellbuf"
	"github.com/folkertvanheusden/termcamng/pkg/palette"
)

func rgbaOf(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Rasterizer converts a cellbuf.Snapshot into an RGB frame using a
// Cache for glyph bitmaps and a Palette for indexed colors.
type Rasterizer struct {
	cache   *Cache
	palette *palette.Palette
}

func NewRasterizer(cache *Cache, pal *palette.Palette) *Rasterizer {
	return &Rasterizer{cache: cache, palette: pal}
}

// Render draws snap into an RGBA image of (w*cellW, h*cellH) pixels.
// blinkPhase toggles BLINK-attributed cells' effective inverse state.
func (r *Rasterizer) Render(snap *cellbuf.Snapshot, blinkPhase bool) *image.RGBA {
	cw, ch := r.cache.CellWidth(), r.cache.CellHeight()
	img := image.NewRGBA(image.Rect(0, 0, snap.Width*cw, snap.Height*ch))

	for y := 0; y < snap.Height; y++ {
		for x := 0; x < snap.Width; x++ {
			r.renderCell(img, snap.Cells[y][x], x*cw, y*ch, cw, ch, blinkPhase, snap.GlobalInvert)
		}
	}
	return img
}

func (r *Rasterizer) resolve(c cellbuf.Color, intensity uint8) (uint8, uint8, uint8) {
	switch c.Kind {
	case cellbuf.ColorRGB:
		return scale(c.R, intensity), scale(c.G, intensity), scale(c.B, intensity)
	case cellbuf.ColorAnsi:
		rgb := r.palette.Resolve(c.Index)
		return scale(rgb.R, intensity), scale(rgb.G, intensity), scale(rgb.B, intensity)
	default:
		// default colors are resolved by resolveFgDefault and
		// resolveBgDefault before reaching here; this fallback is black.
		return 0, 0, 0
	}
}

func scale(channel, intensity uint8) uint8 {
	return uint8((uint16(channel) * uint16(intensity)) / 255)
}

func (r *Rasterizer) renderCell(img *image.RGBA, cell cellbuf.Cell, px, py, cw, ch int, blinkPhase, globalInvert bool) {
	intensity := uint8(200)
	if cell.Attr&cellbuf.AttrBold != 0 {
		intensity = 255
	} else if cell.Attr&cellbuf.AttrDim != 0 {
		intensity = 145
	}

	fgR, fgG, fgB := r.resolveFgDefault(cell.Fg, intensity)
	bgR, bgG, bgB := r.resolveBgDefault(cell.Bg, intensity)

	if cell.Fg.Kind == cellbuf.ColorAnsi && cell.Bg.Kind == cellbuf.ColorAnsi && cell.Fg.Index == cell.Bg.Index {
		fgR, fgG, fgB = 255, 255, 255
		bgR, bgG, bgB = 0, 0, 0
	}

	inverse := cell.Attr&cellbuf.AttrInverse != 0
	if cell.Attr&cellbuf.AttrBlink != 0 {
		inverse = blinkPhase
	}
	if globalInvert {
		inverse = !inverse
	}
	if inverse {
		fgR, bgR = bgR, fgR
		fgG, bgG = bgG, fgG
		fgB, bgB = bgB, fgB
	}

	// fill background
	bg := rgbaOf(bgR, bgG, bgB)
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			img.Set(px+x, py+y, bg)
		}
	}

	if cell.Codepoint != 0 && cell.Codepoint != ' ' {
		bmp := r.cache.Glyph(cell.Codepoint, cell.Attr&cellbuf.AttrItalic != 0)
		if bmp == nil {
			paintNoise(img, px, py, cw, ch)
		} else {
			blitGlyph(img, bmp, px, py, cw, ch, fgR, fgG, fgB)
		}
	}

	fg := rgbaOf(fgR, fgG, fgB)
	if cell.Attr&cellbuf.AttrUnderline != 0 {
		yy := py + ch - 2
		for x := 0; x < cw; x++ {
			img.Set(px+x, yy, fg)
		}
	}
	if cell.Attr&cellbuf.AttrStrikethrough != 0 {
		yy := py + ch/2
		for x := 0; x < cw; x++ {
			img.Set(px+x, yy, fg)
		}
	}
}

func (r *Rasterizer) resolveFgDefault(c cellbuf.Color, intensity uint8) (uint8, uint8, uint8) {
	if c.Kind == cellbuf.ColorDefault {
		return scale(229, intensity), scale(229, intensity), scale(229, intensity)
	}
	return r.resolve(c, intensity)
}

func (r *Rasterizer) resolveBgDefault(c cellbuf.Color, intensity uint8) (uint8, uint8, uint8) {
	if c.Kind == cellbuf.ColorDefault {
		return 0, 0, 0
	}
	return r.resolve(c, intensity)
}

func blitGlyph(img *image.RGBA, bmp *Bitmap, px, py, cw, ch int, fr, fg, fb uint8) {
	// oversized bitmaps (fallback fonts) are box-averaged down to the
	// cell rather than clipped
	if bmp.Width > cw || bmp.Height > ch {
		bmp = downscaleBitmap(bmp, minInt(bmp.Width, cw), minInt(bmp.Height, ch))
	}
	w, h := bmp.Width, bmp.Height
	if bmp.Color != nil {
		// color glyph (emoji): preserved regardless of fg/bg
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(px+x, py+y, bmp.Color.At(x, y))
			}
		}
		return
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint16(bmp.Alpha[y*bmp.Width+x])
			if a == 0 {
				continue
			}
			bg := img.RGBAAt(px+x, py+y)
			nr := uint8((a*uint16(fr) + (255-a)*uint16(bg.R)) >> 8)
			ng := uint8((a*uint16(fg) + (255-a)*uint16(bg.G)) >> 8)
			nb := uint8((a*uint16(fb) + (255-a)*uint16(bg.B)) >> 8)
			img.Set(px+x, py+y, rgbaOf(nr, ng, nb))
		}
	}
}

// downscaleBitmap box-averages src into a w*h bitmap: each target
// pixel is the mean of the source rectangle it covers.
func downscaleBitmap(src *Bitmap, w, h int) *Bitmap {
	if src.Color != nil {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			y0, y1 := boxRange(y, h, src.Height)
			for x := 0; x < w; x++ {
				x0, x1 := boxRange(x, w, src.Width)
				var r, g, b, a, n uint32
				for sy := y0; sy < y1; sy++ {
					for sx := x0; sx < x1; sx++ {
						c := src.Color.RGBAAt(sx, sy)
						r += uint32(c.R)
						g += uint32(c.G)
						b += uint32(c.B)
						a += uint32(c.A)
						n++
					}
				}
				dst.SetRGBA(x, y, color.RGBA{
					R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(a / n),
				})
			}
		}
		return &Bitmap{Width: w, Height: h, Color: dst}
	}

	out := &Bitmap{Width: w, Height: h, Alpha: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		y0, y1 := boxRange(y, h, src.Height)
		for x := 0; x < w; x++ {
			x0, x1 := boxRange(x, w, src.Width)
			var sum, n uint32
			for sy := y0; sy < y1; sy++ {
				for sx := x0; sx < x1; sx++ {
					sum += uint32(src.Alpha[sy*src.Width+sx])
					n++
				}
			}
			out.Alpha[y*w+x] = uint8(sum / n)
		}
	}
	return out
}

// boxRange maps target index i of dstLen onto its half-open source
// pixel range in srcLen, never empty.
func boxRange(i, dstLen, srcLen int) (int, int) {
	lo := i * srcLen / dstLen
	hi := (i + 1) * srcLen / dstLen
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func paintNoise(img *image.RGBA, px, py, cw, ch int) {
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			v := uint8(rand.Intn(256))
			img.Set(px+x, py+y, rgbaOf(v, v, v))
		}
	}
}
