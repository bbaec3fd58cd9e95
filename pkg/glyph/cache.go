// Package glyph implements the glyph cache and rasterizer: it maps
// (face, glyph, italic) to a rendered bitmap with process lifetime,
// and converts a cellbuf.Snapshot into an RGB frame.
package glyph

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// italicShear is 0x5000/0x10000, giving an ~18 degree slant.
const italicShear = 0.3125

// Bitmap is a cached, rasterized glyph: an alpha mask used to blend fg
// into bg, or (for color emoji faces) a premultiplied color image used
// as-is.
type Bitmap struct {
	Width, Height int
	Alpha         []uint8 // Width*Height, 0..255; nil if Color is set
	Color         *image.RGBA
}

type key struct {
	face   int
	r      rune
	italic bool
}

// Cache loads faces in fallback order (face 0 wins if it has the
// glyph) and caches rasterized bitmaps for the lifetime of the
// process; nothing is ever evicted.
type Cache struct {
	// fontMu serializes all calls into the font rasterization library,
	// which is treated as non-reentrant.
	fontMu sync.Mutex

	faces  []font.Face
	cellW  int
	cellH  int
	ascent fixed.Int26_6

	cacheMu sync.Mutex
	cache   map[key]*Bitmap
}

// LoadFaces parses each TTF/OTF path in order, falling back to
// basicfont.Face7x13 if paths is empty, and derives the cell size from
// face 0's metrics.
func LoadFaces(paths []string, fontHeight int) (*Cache, error) {
	var faces []font.Face
	if len(paths) == 0 {
		faces = append(faces, basicfont.Face7x13)
	} else {
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("glyph: read font %s: %w", p, err)
			}
			fnt, err := opentype.Parse(data)
			if err != nil {
				return nil, fmt.Errorf("glyph: parse font %s: %w", p, err)
			}
			face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
				Size:    float64(fontHeight),
				DPI:     72,
				Hinting: font.HintingFull,
			})
			if err != nil {
				return nil, fmt.Errorf("glyph: build face %s: %w", p, err)
			}
			faces = append(faces, face)
		}
	}

	metrics := faces[0].Metrics()
	advance, _ := faces[0].GlyphAdvance('M')
	cellW := advance.Ceil()
	if cellW <= 0 {
		cellW = fontHeight / 2
	}
	cellH := (metrics.Ascent + metrics.Descent).Ceil()
	if cellH <= 0 {
		cellH = fontHeight
	}

	return &Cache{
		faces:  faces,
		cellW:  cellW,
		cellH:  cellH,
		ascent: metrics.Ascent,
		cache:  make(map[key]*Bitmap),
	}, nil
}

func (c *Cache) CellWidth() int  { return c.cellW }
func (c *Cache) CellHeight() int { return c.cellH }

// Glyph returns the cached bitmap for r, rasterizing on a cache miss.
// Faces are tried in order; the first face containing the glyph wins.
// Missing glyphs return nil, which the rasterizer renders as noise.
func (c *Cache) Glyph(r rune, italic bool) *Bitmap {
	faceIdx, ok := c.findFace(r)
	if !ok {
		return nil
	}

	k := key{face: faceIdx, r: r, italic: italic}
	c.cacheMu.Lock()
	if b, found := c.cache[k]; found {
		c.cacheMu.Unlock()
		return b
	}
	c.cacheMu.Unlock()

	b := c.rasterize(faceIdx, r, italic)

	c.cacheMu.Lock()
	c.cache[k] = b
	c.cacheMu.Unlock()
	return b
}

func (c *Cache) findFace(r rune) (int, bool) {
	c.fontMu.Lock()
	defer c.fontMu.Unlock()
	for i, f := range c.faces {
		if _, _, ok := f.GlyphBounds(r); ok {
			return i, true
		}
	}
	return 0, false
}

func (c *Cache) rasterize(faceIdx int, r rune, italic bool) *Bitmap {
	c.fontMu.Lock()
	defer c.fontMu.Unlock()

	face := c.faces[faceIdx]
	dst := image.NewAlpha(image.Rect(0, 0, c.cellW, c.cellH))
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Alpha{A: 255}),
		Face: face,
		Dot:  fixed.P(0, c.ascent.Ceil()),
	}
	d.DrawString(string(r))

	if italic {
		dst = shear(dst, italicShear)
	}

	b := &Bitmap{Width: c.cellW, Height: c.cellH, Alpha: make([]uint8, c.cellW*c.cellH)}
	for y := 0; y < c.cellH; y++ {
		for x := 0; x < c.cellW; x++ {
			b.Alpha[y*c.cellW+x] = dst.AlphaAt(x, y).A
		}
	}
	return b
}

// shear applies a horizontal shear to synthesize an italic glyph from
// an upright one: row y's pixels are offset by shear*((height-1)-y),
// so the glyph leans to the right reading top-to-bottom.
func shear(src *image.Alpha, shear float64) *image.Alpha {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewAlpha(bounds)
	for y := 0; y < h; y++ {
		offset := int(shear * float64(h-1-y))
		for x := 0; x < w; x++ {
			sx := x - offset
			if sx < 0 || sx >= w {
				continue
			}
			dst.SetAlpha(x, y, src.AlphaAt(sx, y))
		}
	}
	return dst
}
