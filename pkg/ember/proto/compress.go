package proto

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
)

var acceptEncodingHeader = []byte("Accept-Encoding")
var gzipToken = []byte("gzip")

// AcceptsGzip reports whether req's Accept-Encoding header lists gzip,
// the negotiation GzipBody performs before compressing.
func AcceptsGzip(req *Request) bool {
	return req.Header.HasToken(acceptEncodingHeader, gzipToken)
}

// GzipBody wraps src — a callback-sourced response body a handler already
// built — in a gzip writer and adds the matching Content-Encoding header,
// but only when req's Accept-Encoding negotiates it; otherwise src is
// returned unchanged. Compression runs synchronously inside the returned
// response's own FillCallback pulls (src.FillCallback() is called
// repeatedly until the gzip writer has produced output or src reports
// end-of-stream; that output buffers until drained), so no extra goroutine
// or whole-body buffering is introduced — streaming stays streaming.
func GzipBody(req *Request, src *Response) *Response {
	if !AcceptsGzip(req) || src.BodyKind() != BodyCallback {
		return src
	}

	var pending bytes.Buffer
	gz := gzip.NewWriter(&pending)
	srcDone := false

	out := FromCallback(src.StatusCode, unknownSize, 4096, func(dst []byte) (int, error) {
		for pending.Len() == 0 && !srcDone {
			chunk, eof, err := src.FillCallback()
			if err != nil {
				return 0, err
			}
			if len(chunk) > 0 {
				if _, werr := gz.Write(chunk); werr != nil {
					return 0, werr
				}
			}
			if eof {
				if cerr := gz.Close(); cerr != nil {
					return 0, cerr
				}
				srcDone = true
			}
		}
		if pending.Len() == 0 {
			return 0, nil // srcDone and nothing left buffered: end-of-stream
		}
		return pending.Read(dst)
	})
	src.Header.VisitAll(func(kind HeaderKind, name, value []byte) bool {
		out.Header.Add(kind, name, value)
		return true
	})
	out.MustClose = src.MustClose
	out.HTTP10Only = src.HTTP10Only
	out.AddHeader([]byte("Content-Encoding"), gzipToken)
	return out
}

// GzipBuffer gzip-compresses body and returns a BodyBuffer-sourced
// Response built from the result, adding the matching Content-Encoding
// header. Intended for handlers that want compressed bodies without
// hand-rolling a callback source; streaming compression belongs in
// GzipBody instead.
func GzipBuffer(status int, body []byte) (*Response, error) {
	var out bytes.Buffer
	w, err := gzip.NewWriterLevel(&out, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	resp := FromBuffer(status, out.Bytes())
	resp.AddHeader([]byte("Content-Encoding"), []byte("gzip"))
	return resp, nil
}
