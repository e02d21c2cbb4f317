package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// minCompressSize skips compression for bodies too small to benefit.
const minCompressSize = 512

var (
	gzipPool = sync.Pool{New: func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return gz
	}}
	brotliPool = sync.Pool{New: func() interface{} {
		return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression)
	}}
)

// negotiateEncoding picks br over gzip; "" means identity. Codings listed
// with q=0 are refused.
func negotiateEncoding(accept string) string {
	var gz bool
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			return "br"
		case "gzip":
			gz = true
		}
	}
	if gz {
		return "gzip"
	}
	return ""
}

// compressWriter buffers the first bytes of the body so small responses go
// out uncompressed.
type compressWriter struct {
	http.ResponseWriter
	encoding string
	status   int
	buf      []byte
	enc      io.WriteCloser
	release  func()
	decided  bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.decided {
		if w.enc != nil {
			return w.enc.Write(b)
		}
		return w.ResponseWriter.Write(b)
	}
	w.buf = append(w.buf, b...)
	if len(w.buf) >= minCompressSize {
		if err := w.start(true); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// start commits the headers and flushes the buffered prefix.
func (w *compressWriter) start(compress bool) error {
	w.decided = true
	h := w.Header()
	if compress && h.Get("Content-Encoding") == "" && w.status != http.StatusNoContent && w.status != http.StatusNotModified {
		h.Set("Content-Encoding", w.encoding)
		h.Del("Content-Length")
		switch w.encoding {
		case "br":
			bw := brotliPool.Get().(*brotli.Writer)
			bw.Reset(w.ResponseWriter)
			w.enc, w.release = bw, func() { brotliPool.Put(bw) }
		default:
			gz := gzipPool.Get().(*gzip.Writer)
			gz.Reset(w.ResponseWriter)
			w.enc, w.release = gz, func() { gzipPool.Put(gz) }
		}
	}
	w.ResponseWriter.WriteHeader(w.status)
	if len(w.buf) == 0 {
		return nil
	}
	var err error
	if w.enc != nil {
		_, err = w.enc.Write(w.buf)
	} else {
		_, err = w.ResponseWriter.Write(w.buf)
	}
	w.buf = nil
	return err
}

func (w *compressWriter) finish() {
	if !w.decided {
		if w.status == 0 {
			w.status = http.StatusOK
		}
		_ = w.start(false)
	}
	if w.enc != nil {
		_ = w.enc.Close()
		w.release()
	}
}

// Compress encodes responses with brotli or gzip according to
// Accept-Encoding. Bodies under minCompressSize are sent as is.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}
