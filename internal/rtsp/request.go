package rtsp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

const (
	Version   = "1.0"
	userAgent = "amba-rpc"
)

type Request struct {
	Method   Method
	Url      string
	Sequence int
	Header   http.Header
	Body     []byte
}

// Write serialises the request in a single write so interleaved writers
// never split it.
func (r *Request) Write(w io.Writer) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s RTSP/%s\r\n", r.Method, r.Url, Version)
	// written by hand, http.Header would canonicalise it to Cseq
	fmt.Fprintf(&b, "CSeq: %d\r\n", r.Sequence)

	header := http.Header{}
	for k, v := range r.Header {
		header[k] = v
	}
	header.Del("CSeq")
	header.Set("User-Agent", userAgent)
	if len(r.Body) > 0 {
		header.Set("Content-Length", fmt.Sprintf("%d", len(r.Body)))
	}
	if err := header.Write(&b); err != nil {
		return fmt.Errorf("failed to write request headers: %w", err)
	}
	b.WriteString("\r\n")
	b.Write(r.Body)

	if _, err := w.Write(b.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s request: %w", r.Method, err)
	}
	return nil
}
