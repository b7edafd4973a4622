package api

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
)

// gzipMinSize is the response body threshold below which compression is
// skipped -- gzip framing overhead outweighs the savings on tiny payloads.
const gzipMinSize = 1024

// gzipRecorder buffers a handler's response so its size can be checked
// against gzipMinSize before deciding whether to compress it, mirroring the
// control server's statusRecorder wrapping idiom.
type gzipRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (g *gzipRecorder) WriteHeader(status int) {
	g.status = status
}

func (g *gzipRecorder) Write(b []byte) (int, error) {
	return g.buf.Write(b)
}

// gzipMiddleware compresses responses of at least gzipMinSize bytes when the
// client advertises gzip support, leaving smaller bodies untouched.
func gzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		rec := &gzipRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		body := rec.buf.Bytes()
		if len(body) < gzipMinSize {
			w.WriteHeader(rec.status)
			_, _ = w.Write(body)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(rec.status)

		gz, _ := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		_, _ = gz.Write(body)
		_ = gz.Close()
	})
}
