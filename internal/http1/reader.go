package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	ErrHeaderName    = eris.New("http1: invalid header name")
	ErrHeaderTooLong = eris.New("http1: header block too large")
	ErrLengthFraming = eris.New("http1: conflicting body framing")
)

// Header limits for injected request text: one line, and the whole block.
const (
	DefaultMaxHeaderLine  = 8 << 10
	DefaultMaxHeaderBlock = 64 << 10
)

// ParsedRequest is a minimal representation parsed from the wire.
type ParsedRequest struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        map[string][]string
	ContentLength int64
	Body          io.ReadCloser
}

// Reader parses raw HTTP/1.x requests.
type Reader struct {
	BR *bufio.Reader
	// MaxHeaderBytes limits a single line; MaxTotalHeaderBytes the whole
	// header block. Zero disables a limit.
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
}

func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, io.ErrUnexpectedEOF
	}
	method, uri, proto := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, io.ErrUnexpectedEOF
	}
	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}
	// Decide body source: chunked TE, else Content-Length, else empty
	var cl int64
	var body io.ReadCloser
	chunked := HasChunkedTE(hdr)
	clv, err := contentLength(hdr)
	if err != nil {
		return nil, err
	}
	switch {
	case chunked && clv >= 0:
		return nil, ErrLengthFraming
	case chunked:
		cl = -1
		body = NewChunkedReader(r.BR, r.MaxHeaderBytes)
	case clv > 0:
		cl = clv
		body = &limitedBody{lr: &io.LimitedReader{R: r.BR, N: cl}}
	default:
		body = io.NopCloser(strings.NewReader(""))
	}
	return &ParsedRequest{
		Method:        method,
		RequestURI:    uri,
		Proto:         proto,
		Header:        hdr,
		ContentLength: cl,
		Body:          body,
	}, nil
}

// contentLength returns -1 when absent. Repeated values, either as separate
// fields or comma separated, must agree.
func contentLength(h map[string][]string) (int64, error) {
	vv := h[CanonicalHeaderKey("Content-Length")]
	if len(vv) == 0 {
		return -1, nil
	}
	n := int64(-1)
	for _, v := range vv {
		for _, s := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil || m < 0 {
				return 0, ErrLengthFraming
			}
			if n >= 0 && m != n {
				return 0, ErrLengthFraming
			}
			n = m
		}
	}
	return n, nil
}

func (r *Reader) readHeaders() (map[string][]string, error) {
	h := make(map[string][]string)
	total := 0
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		total += len(line)
		if r.MaxTotalHeaderBytes > 0 && total > r.MaxTotalHeaderBytes {
			return nil, ErrHeaderTooLong
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, io.ErrUnexpectedEOF
		}
		k := strings.TrimSpace(line[:i])
		if SanitizeHeaderKey(k) == "" {
			return nil, ErrHeaderName
		}
		v := strings.TrimSpace(line[i+1:])
		addHeader(h, k, v)
	}
	return h, nil
}

func (r *Reader) readLine() (string, error) {
	line, err := readLineLimit(r.BR, r.MaxHeaderBytes)
	if err == io.EOF && line != "" {
		return "", io.ErrUnexpectedEOF
	}
	return line, err
}

type limitedBody struct {
	lr *io.LimitedReader
}

func (b *limitedBody) Read(p []byte) (int, error) { return b.lr.Read(p) }

func (b *limitedBody) Close() error {
	_, err := io.Copy(io.Discard, b.lr)
	return err
}
