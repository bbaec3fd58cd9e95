// Package httpserver implements the HTTP(S) server: single-frame and
// multipart/x-mixed-replace streaming endpoints backed by the cached
// encoder and render gate.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/folkertvanheusden/termcamng/pkg/encoder"
	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

const boundary = "myboundary"

// Server owns the encoder cache and render gate and serves the index,
// frame and stream routes. The same handler set is used whether the
// listener is plain TCP or TLS; the handlers never know which.
type Server struct {
	enc       *encoder.Cache
	gate      *rendergate.Gate
	maxWaitMs int64
	log       *termlog.Logger

	httpSrv *http.Server
}

func New(enc *encoder.Cache, gate *rendergate.Gate, maxWaitMs int64, log *termlog.Logger) *Server {
	if log == nil {
		log = termlog.Discard()
	}
	s := &Server{enc: enc, gate: gate, maxWaitMs: maxWaitMs, log: log}
	s.httpSrv = &http.Server{Handler: s.router()}
	return s
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/index.html", s.handleIndex).Methods("GET")
	for _, f := range []encoder.Format{encoder.FormatPNG, encoder.FormatJPEG, encoder.FormatBMP, encoder.FormatTGA} {
		f := f
		r.HandleFunc(fmt.Sprintf("/frame.%s", frameSuffix(f)), s.handleFrame(f)).Methods("GET", "HEAD")
		r.HandleFunc(fmt.Sprintf("/stream.%s", streamSuffix(f)), s.handleStream(f)).Methods("GET")
	}
	return r
}

func frameSuffix(f encoder.Format) string {
	if f == encoder.FormatJPEG {
		return "jpeg"
	}
	return string(f)
}

func streamSuffix(f encoder.Format) string {
	return "m" + frameSuffix(f)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<!DOCTYPE html><html><head><title>termcamng</title></head>`+
		`<body><img src="/stream.mjpeg"></body></html>`)
}

// handleFrame serves /frame.<fmt>: GET returns one encoded frame, HEAD
// is a "peek" returning 304 when no frame has been rendered yet.
func (s *Server) handleFrame(format encoder.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peek := r.Method == http.MethodHead
		data, ok := s.enc.GetFrame(format, 0, s.maxWaitMs, peek)
		if !ok {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(data)
		}
	}
}

// handleStream serves /stream.m<fmt>: multipart/x-mixed-replace, one
// part per render-gate wake, until the peer disconnects or the gate is
// stopped.
func (s *Server) handleStream(format encoder.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		var afterTS int64
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if s.gate.Stopped() {
				return
			}

			data, ok := s.enc.GetFrame(format, afterTS, s.maxWaitMs, false)
			afterTS = s.gate.LatestUpdate()
			if !ok {
				continue
			}

			if _, err := fmt.Fprintf(w, "\r\n--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
				boundary, format.ContentType(), len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Serve runs the HTTP server on the already-listening net.Listener
// until Shutdown is called or the listener errors.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpSrv.Serve(ln)
}

// Shutdown gracefully stops the server, bounded by a 5s timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
