package httpapi

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

var gzipPool sync.Pool

func getGzipWriter(w io.Writer) *gzip.Writer {
	if v := gzipPool.Get(); v != nil {
		gw := v.(*gzip.Writer)
		gw.Reset(w)
		return gw
	}
	gw, _ := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	return gw
}

func releaseGzipWriter(gw *gzip.Writer) {
	_ = gw.Close()
	gzipPool.Put(gw)
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gw *gzip.Writer
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	g.Header().Del("Content-Length")
	if g.Header().Get("Content-Type") == "" {
		g.Header().Set("Content-Type", http.DetectContentType(b))
	}
	return g.gw.Write(b)
}

// Gzip compresses responses for clients that accept gzip. It must not wrap
// the WebSocket endpoint.
func Gzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")

		gw := getGzipWriter(w)
		defer releaseGzipWriter(gw)
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gw: gw}, r)
	})
}
