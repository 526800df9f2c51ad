package static

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// gzipChunkSize bounds every write of a compressed body.
const gzipChunkSize = 4096

// GzipResponder compresses bodies on the fly for clients accepting gzip or
// deflate. Compressed bodies are streamed without Content-Length.
type GzipResponder struct {
	level int
}

// NewGzipResponder accepts levels 0 to 9; 0 disables compression.
func NewGzipResponder(level int) (*GzipResponder, error) {
	if level < 0 || level > 9 {
		return nil, &ConfigError{Setting: "gzip_level", Value: strconv.Itoa(level), Err: ErrInvalidCompression}
	}
	return &GzipResponder{level: level}, nil
}

func (g *GzipResponder) Process(req *http.Request, filename string, next *Queue) *Response {
	resp := next.Invoke(req, filename)
	if g.level == 0 {
		return resp
	}

	accept := req.Header.Get("Accept-Encoding")
	if accept == "" {
		return resp
	}
	encoding := negotiateEncoding(accept)
	if encoding == "" {
		return resp
	}

	resp.SetContentEmitter(g.emitter(encoding))
	return resp
}

// negotiateEncoding returns the first of gzip or deflate listed in an
// Accept-Encoding value, skipping codings with q=0.
func negotiateEncoding(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		token, params, _ := strings.Cut(part, ";")
		token = strings.ToLower(strings.TrimSpace(token))
		if rejected(params) {
			continue
		}
		switch token {
		case "gzip", "x-gzip":
			return "gzip"
		case "deflate":
			return "deflate"
		}
	}
	return ""
}

func rejected(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q == 0
	}
	return false
}

func (g *GzipResponder) emitter(encoding string) ContentEmitter {
	return func(t Transport, filename string) (int64, error) {
		f, err := os.Open(filename)
		if err != nil {
			return 0, err
		}
		defer f.Close()

		t.SetHeader("Content-Encoding", encoding)
		t.SetHeader("Connection", "close")

		cw := &chunkWriter{t: t}
		buf := bufio.NewWriterSize(cw, gzipChunkSize)

		var enc io.WriteCloser
		if encoding == "gzip" {
			enc, err = gzip.NewWriterLevel(buf, g.level)
		} else {
			enc, err = zlib.NewWriterLevel(buf, g.level)
		}
		if err != nil {
			return 0, err
		}

		if _, err := io.Copy(enc, f); err != nil {
			return cw.n, err
		}
		if err := enc.Close(); err != nil {
			return cw.n, err
		}
		if err := buf.Flush(); err != nil {
			return cw.n, err
		}
		return cw.n, t.End()
	}
}

// chunkWriter splits writes into pieces of at most gzipChunkSize bytes.
type chunkWriter struct {
	t Transport
	n int64
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > gzipChunkSize {
			chunk = chunk[:gzipChunkSize]
		}
		n, err := c.t.Write(chunk)
		written += n
		c.n += int64(n)
		if err != nil {
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}
