package httpserver

import (
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/folkertvanheusden/termcamng/pkg/encoder"
	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
)

func newTestServer(t *testing.T) (*Server, *rendergate.Gate) {
	t.Helper()
	gate := rendergate.New()
	t.Cleanup(gate.Stop)
	frame := func() *image.RGBA {
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
		return img
	}
	cache := encoder.New(gate, frame, 50, nil)
	return New(cache, gate, 10, nil), gate
}

func TestIndexServesHTML(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stream.mjpeg") {
		t.Fatalf("expected index page to reference the mjpeg stream, got %q", rec.Body.String())
	}
}

// HEAD /frame.png before any frame has been rendered must answer 304, per
// the encoder's peek contract.
func TestFramePeekReturns304BeforeAnyRender(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodHead, "/frame.png", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
}

func TestFrameGETReturnsEncodedImage(t *testing.T) {
	s, gate := newTestServer(t)
	gate.Bump()
	req := httptest.NewRequest(http.MethodGet, "/frame.png", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("content-type = %q, want image/png", rec.Header().Get("Content-Type"))
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty PNG body")
	}
}

func TestFrameRoutesCoverAllFormats(t *testing.T) {
	s, gate := newTestServer(t)
	gate.Bump()
	for path, ct := range map[string]string{
		"/frame.png":  "image/png",
		"/frame.jpeg": "image/jpeg",
		"/frame.bmp":  "image/bmp",
		"/frame.tga":  "image/tga",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
		if got := rec.Header().Get("Content-Type"); got != ct {
			t.Errorf("%s: content-type = %q, want %q", path, got, ct)
		}
	}
}

func TestStreamRouteSendsOnePartAndStopsWithGate(t *testing.T) {
	s, gate := newTestServer(t)
	gate.Bump()

	req := httptest.NewRequest(http.MethodGet, "/stream.mjpeg", nil)
	rec := httptest.NewRecorder()

	// handleStream loops until the gate stops; run it directly rather
	// than through Serve since there is no real listener in this test.
	// The first part is guaranteed: latest_update already exceeds the
	// stream's initial afterTS of 0, so GetFrame returns immediately.
	done := make(chan struct{})
	go func() {
		s.router().ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	gate.Stop()
	<-done

	if rec.Header().Get("Content-Type") == "" {
		t.Fatal("expected a Content-Type header to have been set before streaming began")
	}
	if !strings.Contains(rec.Body.String(), "Content-Type: image/jpeg") {
		t.Fatalf("expected at least one multipart jpeg part, got %q", rec.Body.String())
	}
}
