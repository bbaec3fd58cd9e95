package encoder

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Peeking before anything has ever been rendered must return (nil,
// false) so the HTTP layer can answer with a 304 instead of blocking.
func TestGetFramePeekBeforeAnyRenderReturnsFalse(t *testing.T) {
	gate := rendergate.New()
	defer gate.Stop()
	c := New(gate, func() *image.RGBA { return solidFrame(2, 2, color.RGBA{R: 1, G: 2, B: 3, A: 255}) }, 50, nil)

	_, ok := c.GetFrame(FormatPNG, 0, 10, true)
	if ok {
		t.Fatal("expected peek to report no frame before any update")
	}
}

// After a bump, a non-peek GetFrame renders, encodes, and caches; a second
// call with the same afterTS observes the identical source timestamp and
// returns the cached bytes rather than re-encoding.
func TestGetFrameEncodesThenCachesByTimestamp(t *testing.T) {
	gate := rendergate.New()
	defer gate.Stop()
	calls := 0
	c := New(gate, func() *image.RGBA {
		calls++
		return solidFrame(3, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	}, 50, nil)

	gate.Bump()
	ts := gate.LatestUpdate()

	data1, ok := c.GetFrame(FormatPNG, 0, 0, false)
	if !ok || len(data1) == 0 {
		t.Fatal("expected an encoded PNG frame")
	}
	if calls != 1 {
		t.Fatalf("render called %d times, want 1", calls)
	}

	data2, ok := c.GetFrame(FormatPNG, ts-1, 0, false)
	if !ok {
		t.Fatal("second GetFrame failed")
	}
	if calls != 1 {
		t.Fatalf("render called %d times on cache hit, want still 1", calls)
	}
	if !bytes.Equal(data1, data2) {
		t.Fatal("cached bytes differ from the original encode")
	}
}

// An encoded PNG frame's pixel dimensions match the rasterized image
// exactly.
func TestPNGRoundTripDimensions(t *testing.T) {
	gate := rendergate.New()
	defer gate.Stop()
	const w, h = 40, 24
	c := New(gate, func() *image.RGBA { return solidFrame(w, h, color.RGBA{R: 5, G: 6, B: 7, A: 255}) }, 0, nil)
	gate.Bump()

	data, ok := c.GetFrame(FormatPNG, 0, 0, false)
	if !ok {
		t.Fatal("expected a frame")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Fatalf("decoded dims %dx%d, want %dx%d", img.Bounds().Dx(), img.Bounds().Dy(), w, h)
	}
}

func TestPNGCarriesAuthorTextChunk(t *testing.T) {
	var buf bytes.Buffer
	if err := encodePNG(&buf, solidFrame(2, 2, color.RGBA{A: 255}), 50); err != nil {
		t.Fatalf("encodePNG: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("termcamng")) {
		t.Fatal("expected the Author tEXt chunk to survive in the encoded stream")
	}
}

func TestBMPHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	img := solidFrame(4, 3, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	if err := encodeBMP(&buf, img); err != nil {
		t.Fatalf("encodeBMP: %v", err)
	}
	got := buf.Bytes()
	if got[0] != 'B' || got[1] != 'M' {
		t.Fatalf("bad BMP magic: %v", got[:2])
	}
	rowSize := (4*3 + 3) &^ 3
	wantSize := 54 + rowSize*3
	gotSize := int(got[2]) | int(got[3])<<8 | int(got[4])<<16 | int(got[5])<<24
	if gotSize != wantSize {
		t.Fatalf("file size field = %d, want %d", gotSize, wantSize)
	}
	if len(got) != wantSize {
		t.Fatalf("encoded length = %d, want %d", len(got), wantSize)
	}
}

func TestTGAHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	img := solidFrame(5, 2, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	if err := encodeTGA(&buf, img); err != nil {
		t.Fatalf("encodeTGA: %v", err)
	}
	got := buf.Bytes()
	if got[2] != 2 {
		t.Fatalf("image type = %d, want 2 (uncompressed truecolor)", got[2])
	}
	w := int(got[12]) | int(got[13])<<8
	h := int(got[14]) | int(got[15])<<8
	if w != 5 || h != 2 {
		t.Fatalf("dims %dx%d, want 5x2", w, h)
	}
	if got[16] != 24 {
		t.Fatalf("bpp = %d, want 24", got[16])
	}
	wantLen := 18 + 5*3*2
	if len(got) != wantLen {
		t.Fatalf("encoded length = %d, want %d", len(got), wantLen)
	}
}

func TestContentTypes(t *testing.T) {
	cases := map[Format]string{
		FormatPNG:  "image/png",
		FormatJPEG: "image/jpeg",
		FormatBMP:  "image/bmp",
		FormatTGA:  "image/tga",
	}
	for f, want := range cases {
		if got := f.ContentType(); got != want {
			t.Errorf("%s: got %q want %q", f, got, want)
		}
	}
}
