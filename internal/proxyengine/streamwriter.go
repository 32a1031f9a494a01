package proxyengine

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// streamResponseWriter adapts a raw connection to http.ResponseWriter so the
// decrypted MITM stream can be served through the same handleHTTP path used
// for plaintext requests.
type streamResponseWriter struct {
	conn   net.Conn
	writer *bufio.Writer
	header http.Header
	status int
	wrote  bool
}

func newStreamResponseWriter(conn net.Conn) *streamResponseWriter {
	return &streamResponseWriter{conn: conn, writer: bufio.NewWriter(conn), header: http.Header{}}
}

func (w *streamResponseWriter) Header() http.Header { return w.header }

func (w *streamResponseWriter) WriteHeader(status int) {
	if w.wrote {
		return
	}
	w.wrote = true
	w.status = status

	fmt.Fprintf(w.writer, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	_ = w.header.Write(w.writer)
	_, _ = w.writer.WriteString("\r\n")
}

func (w *streamResponseWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.writer.Write(p)
}

func (w *streamResponseWriter) flush() error {
	return w.writer.Flush()
}
