// Package encoder implements the cached, at-most-once-per-frame
// encoder for each output format: PNG/JPEG via the standard library,
// BMP/TGA hand-rolled.
package encoder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
	"github.com/folkertvanheusden/termcamng/pkg/termerr"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatBMP  Format = "bmp"
	FormatTGA  Format = "tga"
)

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatBMP:
		return "image/bmp"
	case FormatTGA:
		return "image/tga"
	default:
		return "application/octet-stream"
	}
}

// RenderFunc rasterizes the current buffer snapshot, consulting the
// render gate's blink phase, and returns the frame to encode.
type RenderFunc func() *image.RGBA

// slot is one cache entry per output format.
type slot struct {
	mu          sync.Mutex
	lastSrcTS   int64
	lastEncoded []byte
}

// Cache holds one slot per format plus the shared render gate and
// rasterize callback.
type Cache struct {
	gate        *rendergate.Gate
	render      RenderFunc
	compression int // 0..100
	log         *termlog.Logger

	slots map[Format]*slot
}

func New(gate *rendergate.Gate, render RenderFunc, compression int, log *termlog.Logger) *Cache {
	if log == nil {
		log = termlog.Discard()
	}
	c := &Cache{gate: gate, render: render, compression: compression, log: log, slots: make(map[Format]*slot)}
	for _, f := range []Format{FormatPNG, FormatJPEG, FormatBMP, FormatTGA} {
		c.slots[f] = &slot{}
	}
	return c
}

// GetFrame implements get_frame(peek): if peek is true and nothing has
// ever been rendered, returns (nil, false) so the HTTP layer can answer
// 304. Otherwise it waits on the gate for up to maxWaitMs past afterTS,
// encodes if the source changed (or nothing has been cached yet), and
// returns a fresh copy of the bytes.
func (c *Cache) GetFrame(format Format, afterTS int64, maxWaitMs int64, peek bool) ([]byte, bool) {
	s := c.slots[format]

	s.mu.Lock()
	neverRendered := s.lastEncoded == nil
	s.mu.Unlock()
	if peek && neverRendered && c.gate.LatestUpdate() == 0 {
		return nil, false
	}

	newTS := c.gate.Render(afterTS, maxWaitMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if peek && newTS == afterTS {
		return nil, false
	}
	if newTS == s.lastSrcTS && s.lastEncoded != nil {
		out := make([]byte, len(s.lastEncoded))
		copy(out, s.lastEncoded)
		return out, true
	}

	frame := c.render()
	encoded, err := c.encode(format, frame)
	if err != nil {
		c.log.Errorf("encoder: %v", err)
		if s.lastEncoded != nil {
			out := make([]byte, len(s.lastEncoded))
			copy(out, s.lastEncoded)
			return out, true
		}
		return nil, false
	}

	s.lastSrcTS = newTS
	s.lastEncoded = encoded
	out := make([]byte, len(encoded))
	copy(out, encoded)
	return out, true
}

func (c *Cache) encode(format Format, img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = encodePNG(&buf, img, c.compression)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100 - c.compression})
	case FormatBMP:
		err = encodeBMP(&buf, img)
	case FormatTGA:
		err = encodeTGA(&buf, img)
	default:
		return nil, termerr.New(termerr.ErrEncoderCompress, "unknown format")
	}
	if err != nil {
		return nil, termerr.Wrap(termerr.ErrEncoderCompress, string(format), err)
	}
	return buf.Bytes(), nil
}

// encodePNG writes the frame, then injects tEXt chunks ahead of IEND
// carrying the Author and URL of this program. The standard library
// png.Encoder has no text-chunk support, so the chunks are spliced in
// by hand afterward.
func encodePNG(buf *bytes.Buffer, img *image.RGBA, compression int) error {
	var raw bytes.Buffer
	enc := &png.Encoder{CompressionLevel: pngLevel(compression)}
	if err := enc.Encode(&raw, img); err != nil {
		return err
	}
	return insertTextChunks(buf, raw.Bytes(), map[string]string{
		"Author": "termcamng",
		"URL":    "https://github.com/folkertvanheusden/termcamng",
	})
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// insertTextChunks copies src into dst, inserting one tEXt chunk per
// key/value pair immediately before the IEND chunk.
func insertTextChunks(dst *bytes.Buffer, src []byte, texts map[string]string) error {
	if len(src) < len(pngSignature) || !bytes.Equal(src[:len(pngSignature)], pngSignature) {
		return termerr.New(termerr.ErrEncoderCompress, "not a PNG stream")
	}
	dst.Write(src[:len(pngSignature)])
	pos := len(pngSignature)

	for pos+8 <= len(src) {
		length := binary.BigEndian.Uint32(src[pos:])
		typ := string(src[pos+4 : pos+8])
		chunkTotal := 8 + int(length) + 4
		if typ == "IEND" {
			for key, val := range texts {
				writeTextChunk(dst, key, val)
			}
		}
		dst.Write(src[pos : pos+chunkTotal])
		pos += chunkTotal
	}
	return nil
}

func writeTextChunk(dst *bytes.Buffer, keyword, text string) {
	data := append([]byte(keyword), 0)
	data = append(data, []byte(text)...)

	var chunk bytes.Buffer
	chunk.WriteString("tEXt")
	chunk.Write(data)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	dst.Write(lenBuf[:])
	dst.Write(chunk.Bytes())

	crc := crc32.ChecksumIEEE(chunk.Bytes())
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	dst.Write(crcBuf[:])
}

// pngLevel maps 0..100 to the zlib-derived levels png.Encoder accepts.
func pngLevel(compression int) png.CompressionLevel {
	level := compression * 9 / 100
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level >= 8:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// encodeBMP writes a 24-bit bottom-up Windows BMP with the 54-byte
// BITMAPFILEHEADER+BITMAPINFOHEADER.
func encodeBMP(buf *bytes.Buffer, img *image.RGBA) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	rowSize := (w*3 + 3) &^ 3
	pixelDataSize := rowSize * h
	fileSize := 54 + pixelDataSize

	header := make([]byte, 54)
	header[0], header[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(header[2:], uint32(fileSize))
	binary.LittleEndian.PutUint32(header[10:], 54) // pixel data offset
	binary.LittleEndian.PutUint32(header[14:], 40) // DIB header size
	binary.LittleEndian.PutUint32(header[18:], uint32(w))
	binary.LittleEndian.PutUint32(header[22:], uint32(h))
	binary.LittleEndian.PutUint16(header[26:], 1)  // planes
	binary.LittleEndian.PutUint16(header[28:], 24) // bpp
	binary.LittleEndian.PutUint32(header[34:], uint32(pixelDataSize))
	buf.Write(header)

	row := make([]byte, rowSize)
	for y := h - 1; y >= 0; y-- {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(x, y)
			row[x*3+0] = c.B
			row[x*3+1] = c.G
			row[x*3+2] = c.R
		}
		for i := w * 3; i < rowSize; i++ {
			row[i] = 0
		}
		buf.Write(row)
	}
	return nil
}

// encodeTGA writes a type-2 (uncompressed truecolor) 24-bit TGA, top to
// bottom (image descriptor bit 5 set).
func encodeTGA(buf *bytes.Buffer, img *image.RGBA) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	header := make([]byte, 18)
	header[2] = 2 // image type: uncompressed truecolor
	binary.LittleEndian.PutUint16(header[12:], uint16(w))
	binary.LittleEndian.PutUint16(header[14:], uint16(h))
	header[16] = 24   // bits per pixel
	header[17] = 0x20 // top-to-bottom
	buf.Write(header)

	row := make([]byte, w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(x, y)
			row[x*3+0] = c.B
			row[x*3+1] = c.G
			row[x*3+2] = c.R
		}
		buf.Write(row)
	}
	return nil
}
